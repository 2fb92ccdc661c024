package plugin

import (
	"github.com/hutchhq/hutch/pkg/data"
)

// ManifestName is the bundle entry carrying the plug-in manifest.
const ManifestName = "plugin.json"

// ManifestPath is the storage path of the manifest inside a mounted
// plug-in tree.
var ManifestPath = data.NewPath("/plugin")

// DefaultPriority is the overlay priority for plug-ins that do not
// declare one. Plug-ins always sit above the system layer and below
// the writable local layer.
const DefaultPriority = 10

// Manifest describes one plug-in bundle.
type Manifest struct {
	ID          string
	Version     string
	Platform    string
	Date        string
	Description string
	Priority    int
}

// ParseManifest reads a manifest from its dictionary form.
func ParseManifest(d *data.Dict) *Manifest {
	return &Manifest{
		ID:          d.GetString("id", ""),
		Version:     d.GetString("version", ""),
		Platform:    d.GetString("platform", ""),
		Date:        d.GetString("date", ""),
		Description: d.GetString("description", ""),
		Priority:    d.GetInt("priority", DefaultPriority),
	}
}

// Dict returns the manifest in its stored form.
func (m *Manifest) Dict() *data.Dict {
	d := data.NewDict()
	d.Set("id", m.ID)
	d.Set("version", m.Version)
	d.Set("platform", m.Platform)
	d.Set("date", m.Date)
	d.Set("description", m.Description)
	d.Set("priority", m.Priority)
	return d
}
