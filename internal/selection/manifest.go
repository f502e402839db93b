package selection

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists what to keep out of a scanned tree. Checking a node checks
// everything below it, so an image is kept when any of its ancestors or the
// instance itself is listed. An empty manifest keeps everything.
type Manifest struct {
	// Patients are patient IDs, optionally qualified as "ID@issuer".
	Patients  []string `yaml:"patients"`
	Studies   []string `yaml:"studies"`
	Series    []string `yaml:"series"`
	Instances []string `yaml:"instances"`
}

// LoadManifest reads a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Empty reports whether the manifest selects nothing explicitly.
func (m *Manifest) Empty() bool {
	return m == nil || len(m.Patients)+len(m.Studies)+len(m.Series)+len(m.Instances) == 0
}

// Filter returns a snapshot with only the checked images.
func (m *Manifest) Filter(s *Snapshot) *Snapshot {
	if m.Empty() {
		return s
	}

	patients := make(map[string]bool, len(m.Patients))
	for _, p := range m.Patients {
		id, issuer, _ := strings.Cut(p, "@")
		patients[PatientPseudoUID(id, issuer, "", "")] = true
	}
	studies := toSet(m.Studies)
	series := toSet(m.Series)
	instances := toSet(m.Instances)

	b := NewBuilder()
	for _, p := range s.Tree() {
		for _, st := range p.Studies {
			for _, se := range st.Series {
				labels := Labels{Patient: p.Label, Study: st.Label, Series: se.Label}
				whole := patients[p.PseudoUID] || studies[st.UID] || series[se.UID]
				for _, img := range se.Images {
					if whole || instances[img.SOPInstanceUID] {
						b.Add(img, labels)
					}
				}
			}
		}
	}
	return b.Snapshot()
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = true
	}
	return out
}
