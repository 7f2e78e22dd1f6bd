package soap

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

// Text returns the trimmed text of the element at path, or "" when missing.
func Text(e *etree.Element, path string) string {
	if e == nil {
		return ""
	}
	c := e.FindElement(path)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

// Int parses the element at path as an integer; a missing element is an error.
func Int(e *etree.Element, path string) (int64, error) {
	if e == nil || e.FindElement(path) == nil {
		return 0, errors.Errorf("element %s not found", path)
	}
	s := Text(e, path)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "element %s", path)
	}
	return v, nil
}

// Add appends <prefix:tag>text</prefix:tag> to parent and returns the child.
func Add(parent *etree.Element, tag, text string) *etree.Element {
	c := parent.CreateElement(tag)
	if text != "" {
		c.SetText(text)
	}
	return c
}
