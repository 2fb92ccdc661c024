package app

import (
	"fmt"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/proc"
	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/session"
	"github.com/hutchhq/hutch/pkg/storage"
)

// queryLimit caps the results of system/storage/query.
const queryLimit = 1000

// registerProcedures adds the built-in system procedures to the
// library. Access to each runs through the security interceptor, so
// role rules on /procedure/system/ govern who may call them.
func (a *Context) registerProcedures() {
	add := func(name, desc string, inputs *proc.Bindings, handler func(cx *proc.CallContext, b *data.Dict) (any, error)) {
		a.lib.AddBuiltIn(&proc.BuiltIn{
			ProcName: name,
			ProcDesc: desc,
			Inputs:   inputs,
			Handler:  handler,
		})
	}

	add("system/status", "Server status summary", nil, a.procStatus)
	add("system/reset", "Rebuild the kernel state", nil, a.procReset)
	add("system/session/current", "The caller's session", nil, a.procSessionCurrent)
	add("system/session/terminate", "Destroy a session",
		proc.NewBindings(proc.Binding{Name: "id", Kind: proc.BindArgument, Value: "current"}),
		a.procSessionTerminate)
	add("system/plugin/list", "Installed and loaded plug-ins", nil, a.procPluginList)
	add("system/plugin/load", "Load an installed plug-in",
		proc.NewBindings(proc.Binding{Name: "id", Kind: proc.BindArgument}),
		a.procPluginLoad)
	add("system/plugin/unload", "Unload a plug-in",
		proc.NewBindings(proc.Binding{Name: "id", Kind: proc.BindArgument}),
		a.procPluginUnload)
	add("system/user/access", "Check the caller's access to a path",
		proc.NewBindings(
			proc.Binding{Name: "path", Kind: proc.BindArgument},
			proc.Binding{Name: "permission", Kind: proc.BindArgument, Value: security.PermRead},
		),
		a.procUserAccess)
	add("system/storage/read", "Read a storage object",
		proc.NewBindings(proc.Binding{Name: "path", Kind: proc.BindArgument}),
		a.procStorageRead)
	add("system/storage/query", "List the children of a storage index",
		proc.NewBindings(proc.Binding{Name: "path", Kind: proc.BindArgument}),
		a.procStorageQuery)
}

func (a *Context) procStatus(cx *proc.CallContext, b *data.Dict) (any, error) {
	d := data.NewDict()
	d.Set("name", "hutch")
	d.Set("version", a.opts.Version)
	d.Set("uptime", time.Since(a.started).Round(time.Second).String())
	d.Set("cacheObjects", a.root.CacheSize())
	d.Set("mounts", len(a.root.Mounts()))
	plugins := data.NewList()
	for _, m := range a.plugins.Loaded() {
		plugins.Add(m.ID)
	}
	d.Set("plugins", plugins)
	return d, nil
}

func (a *Context) procReset(cx *proc.CallContext, b *data.Dict) (any, error) {
	// the reset gate waits for in-flight requests, this one included
	go func() {
		if err := a.Reset(); err != nil {
			a.log.Error().Err(err).Msg("Requested reset failed")
		}
	}()
	return "reset scheduled", nil
}

func (a *Context) procSessionCurrent(cx *proc.CallContext, b *data.Dict) (any, error) {
	id := cx.Attributes().GetString(proc.AttrSessionID, "")
	if id == "" {
		return nil, fmt.Errorf("no session bound to this call")
	}
	s, err := session.Find(a.root, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session not found")
	}
	d := data.NewDict()
	d.Set("id", s.ID())
	d.Set("user", s.UserID())
	d.Set("ip", s.IP())
	d.Set("client", s.Client())
	d.Set("created", s.CreateTime())
	d.Set("accessed", s.AccessedTime())
	d.Set("expires", s.DestroyTime())
	return d, nil
}

func (a *Context) procSessionTerminate(cx *proc.CallContext, b *data.Dict) (any, error) {
	id := b.GetString("id", "current")
	if id == "current" {
		id = cx.Attributes().GetString(proc.AttrSessionID, "")
	}
	if id == "" {
		return nil, fmt.Errorf("no session to terminate")
	}
	if err := session.Remove(a.root, a.broker, id); err != nil {
		return nil, err
	}
	return "terminated", nil
}

func (a *Context) procPluginList(cx *proc.CallContext, b *data.Dict) (any, error) {
	installed, err := a.plugins.Installed()
	if err != nil {
		return nil, err
	}
	loaded := data.NewList()
	for _, m := range a.plugins.Loaded() {
		loaded.Add(m.Dict())
	}
	installedList := data.NewList()
	for _, id := range installed {
		installedList.Add(id)
	}
	d := data.NewDict()
	d.Set("loaded", loaded)
	d.Set("installed", installedList)
	return d, nil
}

func (a *Context) procPluginLoad(cx *proc.CallContext, b *data.Dict) (any, error) {
	id := b.GetString("id", "")
	if err := a.LoadPlugin(id); err != nil {
		return nil, err
	}
	return "loaded", nil
}

func (a *Context) procPluginUnload(cx *proc.CallContext, b *data.Dict) (any, error) {
	id := b.GetString("id", "")
	if err := a.UnloadPlugin(id); err != nil {
		return nil, err
	}
	return "unloaded", nil
}

func (a *Context) procUserAccess(cx *proc.CallContext, b *data.Dict) (any, error) {
	path := b.GetString("path", "")
	permission := b.GetString("permission", security.PermRead)
	return a.sec.HasAccess(cx.User(), path, permission), nil
}

func (a *Context) procStorageRead(cx *proc.CallContext, b *data.Dict) (any, error) {
	path := b.GetString("path", "")
	if !a.sec.HasAccess(cx.User(), path, security.PermRead) {
		return nil, security.ErrForbidden
	}
	d, err := a.root.Load(data.NewPath(path))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("no object at %s", path)
	}
	return d, nil
}

func (a *Context) procStorageQuery(cx *proc.CallContext, b *data.Dict) (any, error) {
	path := b.GetString("path", "")
	if !a.sec.HasAccess(cx.User(), path, security.PermRead) {
		return nil, security.ErrForbidden
	}
	out := data.NewList()
	err := a.root.Query(data.NewPath(path), func(meta storage.Metadata) bool {
		out.Add(meta.Path.String())
		return out.Len() < queryLimit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
