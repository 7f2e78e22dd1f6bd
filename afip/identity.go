package afip

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// Registry is an immutable CUIT -> certificate/key table, built once at startup.
type Registry struct {
	byCuit map[string]Identity
}

// NewRegistry validates every CUIT and rejects duplicates.
func NewRegistry(ids ...Identity) (*Registry, error) {
	m := make(map[string]Identity, len(ids))
	for _, id := range ids {
		cuit, err := NormalizeCuit(id.Cuit)
		if err != nil {
			return nil, errors.Wrapf(err, "identity %q", id.Cuit)
		}
		if !ValidCuit(cuit) {
			return nil, errors.Errorf("identity %q: invalid check digit", id.Cuit)
		}
		if id.CertificatePath == "" || id.KeyPath == "" {
			return nil, errors.Errorf("identity %s: certificate and key paths are required", cuit)
		}
		if _, dup := m[cuit]; dup {
			return nil, errors.Errorf("identity %s configured twice", cuit)
		}
		id.Cuit = cuit
		id.KeyPassword = append([]byte(nil), id.KeyPassword...)
		m[cuit] = id
	}
	return &Registry{byCuit: m}, nil
}

// Resolve is an exact-match lookup. Unknown CUITs fail with UnknownIdentity.
func (r *Registry) Resolve(cuit string) (Identity, error) {
	id, ok := r.byCuit[cuit]
	if !ok {
		return Identity{}, UnknownIdentity(cuit)
	}
	id.KeyPassword = append([]byte(nil), id.KeyPassword...)
	return id, nil
}

// Cuits lists the configured taxpayers in ascending order.
func (r *Registry) Cuits() []string {
	out := make([]string, 0, len(r.byCuit))
	for c := range r.byCuit {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type registryFile struct {
	Identities []struct {
		Cuit           string `yaml:"cuit"`
		Certificate    string `yaml:"certificate"`
		Key            string `yaml:"key"`
		KeyPasswordEnv string `yaml:"key_password_env"`
	} `yaml:"identities"`
}

// LoadRegistry reads the YAML identity table. Relative paths are resolved
// against the directory of the file.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read identities file")
	}

	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(f.Identities) == 0 {
		return nil, errors.Errorf("%s: no identities configured", path)
	}

	base := filepath.Dir(path)
	ids := make([]Identity, 0, len(f.Identities))
	for _, e := range f.Identities {
		id := Identity{
			Cuit:            e.Cuit,
			CertificatePath: resolvePath(base, e.Certificate),
			KeyPath:         resolvePath(base, e.Key),
		}
		if e.KeyPasswordEnv != "" {
			pass, ok := os.LookupEnv(e.KeyPasswordEnv)
			if !ok {
				return nil, errors.Errorf("identity %s: %s is not set", e.Cuit, e.KeyPasswordEnv)
			}
			id.KeyPassword = []byte(pass)
		}
		ids = append(ids, id)
	}

	r, err := NewRegistry(ids...)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Loaded %d identities from %s", len(ids), path)
	return r, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ====== CUIT ======

var cuitDigitsRe = regexp.MustCompile(`\D+`)

// NormalizeCuit strips separators ("20-11111111-2") and requires 11 digits.
func NormalizeCuit(cuit string) (string, error) {
	digits := cuitDigitsRe.ReplaceAllString(cuit, "")
	if len(digits) != 11 {
		return "", errors.New("CUIT must contain exactly 11 digits")
	}
	return digits, nil
}

var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ValidCuit checks the mod-11 verification digit of a normalized CUIT.
func ValidCuit(cuit string) bool {
	if len(cuit) != 11 {
		return false
	}
	sum := 0
	for i, w := range cuitWeights {
		d := cuit[i] - '0'
		if d > 9 {
			return false
		}
		sum += int(d) * w
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		check = 9
	}
	return int(cuit[10]-'0') == check
}
