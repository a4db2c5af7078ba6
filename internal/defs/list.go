package defs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
)

const extJSON = ".json"

// Entry describes one request definition file found on disk, with the
// method and URL sniffed from its JSON so listings can show them without
// fully decoding the file.
type Entry struct {
	Name   string
	Path   string
	Method string
	URL    string
}

// IsDefinitionFile reports whether path looks like a stored request
// definition by extension alone.
func IsDefinitionFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == extJSON
}

// List walks root for definition files. Files that do not parse as a
// definition (no url field) are skipped rather than reported, so a mixed
// directory of JSON files stays usable. Hidden directories are not entered.
func List(root string, recursive bool) ([]Entry, error) {
	var entries []Entry
	collect := func(name, path string) {
		if entry, ok := sniff(name, path); ok {
			entries = append(entries, entry)
		}
	}

	if recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !IsDefinitionFile(d.Name()) {
				return nil
			}
			rel := d.Name()
			if r, relErr := filepath.Rel(root, path); relErr == nil {
				rel = r
			}
			collect(rel, path)
			return nil
		})
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "walk %s", root)
		}
	} else {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read %s", root)
		}
		for _, entry := range dirEntries {
			if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
				continue
			}
			collect(entry.Name(), filepath.Join(root, entry.Name()))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func sniff(name, path string) (Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return Entry{}, false
	}
	doc := gjson.ParseBytes(data)
	rawURL := doc.Get("url").String()
	if rawURL == "" {
		return Entry{}, false
	}
	method := strings.ToUpper(doc.Get("method").String())
	if method == "" {
		method = "GET"
	}
	return Entry{Name: name, Path: path, Method: method, URL: rawURL}, true
}
