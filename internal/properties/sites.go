package properties

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// SiteTable maps a country or site name to the asset path of its boundary.
type SiteTable map[string]string

type sitesFile struct {
	Sites SiteTable `yaml:"sites"`
}

func LoadSiteTable(path string) (SiteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site table %s: %w", path, err)
	}
	return ParseSiteTable(data)
}

func ParseSiteTable(data []byte) (SiteTable, error) {
	var file sitesFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse site table: %w", err)
	}
	for name, asset := range file.Sites {
		if asset == "" {
			return nil, fmt.Errorf("site %q has an empty asset path", name)
		}
	}
	if file.Sites == nil {
		file.Sites = SiteTable{}
	}
	return file.Sites, nil
}

func (s SiteTable) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
