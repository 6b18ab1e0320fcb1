package shell

import "strings"

// DarkModeClass is the marker placed on the document root while the dark
// theme is active.
const DarkModeClass = "dark-mode"

// ClassList is an ordered set of CSS class names.
type ClassList struct {
	names []string
}

func NewClassList(names ...string) ClassList {
	var c ClassList
	for _, n := range names {
		c.Add(n)
	}
	return c
}

func (c *ClassList) Contains(name string) bool {
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}

func (c *ClassList) Add(name string) {
	name = strings.TrimSpace(name)
	if name == "" || c.Contains(name) {
		return
	}
	c.names = append(c.names, name)
}

func (c *ClassList) Remove(name string) {
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			return
		}
	}
}

// Toggle removes name if present and adds it otherwise. It reports whether
// name is present afterwards.
func (c *ClassList) Toggle(name string) bool {
	if c.Contains(name) {
		c.Remove(name)
		return false
	}
	c.Add(name)
	return true
}

func (c ClassList) String() string { return strings.Join(c.names, " ") }

// Theme is the dark-mode flag together with the document root classes it
// drives. The flag and the marker class are always flipped together.
type Theme struct {
	dark bool
	root ClassList
}

func (t *Theme) Toggle() bool {
	t.dark = !t.dark
	t.root.Toggle(DarkModeClass)
	return t.dark
}

func (t *Theme) Dark() bool { return t.dark }

// RootClasses is the class attribute of the document root.
func (t *Theme) RootClasses() string { return t.root.String() }
