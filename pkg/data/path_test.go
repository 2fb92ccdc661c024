package data

import "testing"

// TestNewPath tests path parsing and string round-trips
func TestNewPath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantStr   string
		wantIndex bool
		wantDepth int
	}{
		{
			name:      "root",
			input:     "/",
			wantStr:   "/",
			wantIndex: true,
			wantDepth: 0,
		},
		{
			name:      "empty string is root",
			input:     "",
			wantStr:   "/",
			wantIndex: true,
			wantDepth: 0,
		},
		{
			name:      "object path",
			input:     "/user/admin",
			wantStr:   "/user/admin",
			wantIndex: false,
			wantDepth: 2,
		},
		{
			name:      "index path",
			input:     "/connection/",
			wantStr:   "/connection/",
			wantIndex: true,
			wantDepth: 1,
		},
		{
			name:      "collapses duplicate slashes",
			input:     "//a///b",
			wantStr:   "/a/b",
			wantIndex: false,
			wantDepth: 2,
		},
		{
			name:      "missing leading slash",
			input:     "plugin/local/",
			wantStr:   "/plugin/local/",
			wantIndex: true,
			wantDepth: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPath(tt.input)
			if p.String() != tt.wantStr {
				t.Errorf("String() = %q, want %q", p.String(), tt.wantStr)
			}
			if p.IsIndex() != tt.wantIndex {
				t.Errorf("IsIndex() = %v, want %v", p.IsIndex(), tt.wantIndex)
			}
			if p.Depth() != tt.wantDepth {
				t.Errorf("Depth() = %d, want %d", p.Depth(), tt.wantDepth)
			}
		})
	}
}

// TestPathNavigation tests parent, child and sibling derivation
func TestPathNavigation(t *testing.T) {
	p := NewPath("/connection/db/")

	if got := p.Parent().String(); got != "/connection/" {
		t.Errorf("Parent() = %q, want %q", got, "/connection/")
	}
	if got := p.Child("primary", false).String(); got != "/connection/db/primary" {
		t.Errorf("Child() = %q, want %q", got, "/connection/db/primary")
	}
	if got := p.Sibling("web").String(); got != "/connection/web/" {
		t.Errorf("Sibling() = %q, want %q", got, "/connection/web/")
	}
	if got := Root.Parent(); !got.IsRoot() {
		t.Errorf("root Parent() = %q, want root", got.String())
	}

	obj := NewPath("/user/admin")
	if got := obj.Parent().String(); got != "/user/" {
		t.Errorf("Parent() = %q, want %q", got, "/user/")
	}
	if got := obj.Name(); got != "admin" {
		t.Errorf("Name() = %q, want %q", got, "admin")
	}
}

// TestPathChildImmutable tests that derived paths do not alias each other
func TestPathChildImmutable(t *testing.T) {
	base := NewPath("/a/")
	c1 := base.Child("b", false)
	c2 := base.Child("c", false)

	if c1.String() != "/a/b" {
		t.Errorf("first child = %q, want /a/b", c1.String())
	}
	if c2.String() != "/a/c" {
		t.Errorf("second child = %q, want /a/c", c2.String())
	}
}

// TestPathStartsWith tests prefix matching
func TestPathStartsWith(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		prefix string
		want   bool
	}{
		{"root covers all", "/user/admin", "/", true},
		{"index covers child", "/user/admin", "/user/", true},
		{"index covers grandchild", "/storage/plugin/local/x", "/storage/plugin/", true},
		{"index covers itself", "/user/", "/user/", true},
		{"object covers itself", "/user/admin", "/user/admin", true},
		{"object has no children", "/user/admin/x", "/user/admin", false},
		{"sibling mismatch", "/role/admin", "/user/", false},
		{"partial segment is no prefix", "/userdata/x", "/user/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPath(tt.path)
			q := NewPath(tt.prefix)
			if got := p.StartsWith(q); got != tt.want {
				t.Errorf("StartsWith(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
			}
		})
	}
}

// TestPathSubpath tests prefix removal
func TestPathSubpath(t *testing.T) {
	p := NewPath("/storage/plugin/local/user/admin")
	rel, ok := p.Subpath(NewPath("/storage/plugin/local/"))
	if !ok {
		t.Fatal("Subpath() reported no match")
	}
	if rel.String() != "/user/admin" {
		t.Errorf("Subpath() = %q, want %q", rel.String(), "/user/admin")
	}

	if _, ok := p.Subpath(NewPath("/other/")); ok {
		t.Error("Subpath() matched an unrelated prefix")
	}

	rel, ok = NewPath("/user/").Subpath(NewPath("/user/"))
	if !ok || !rel.IsRoot() {
		t.Errorf("Subpath() of itself = %q, want root", rel.String())
	}
}

// TestPathResolve tests joining relative paths
func TestPathResolve(t *testing.T) {
	base := NewPath("/environment/prod/")
	rel := NewPath("/connection/db")
	if got := base.Resolve(rel).String(); got != "/environment/prod/connection/db" {
		t.Errorf("Resolve() = %q, want %q", got, "/environment/prod/connection/db")
	}
}

// TestPathHidden tests dotted segment detection
func TestPathHidden(t *testing.T) {
	if !NewPath("/.metrics/proc/x").Hidden() {
		t.Error("dotted root segment not reported hidden")
	}
	if !NewPath("/data/.internal/").Hidden() {
		t.Error("dotted inner segment not reported hidden")
	}
	if NewPath("/user/admin").Hidden() {
		t.Error("plain path reported hidden")
	}
}

// TestPathEqual tests case-sensitive equality
func TestPathEqual(t *testing.T) {
	if !NewPath("/user/a").Equal(NewPath("/user/a")) {
		t.Error("equal paths not equal")
	}
	if NewPath("/user/a").Equal(NewPath("/user/a/")) {
		t.Error("object and index paths compared equal")
	}
	if NewPath("/user/A").Equal(NewPath("/user/a")) {
		t.Error("comparison is not case-sensitive")
	}
}
