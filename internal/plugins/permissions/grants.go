package permissions

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/keyxmakerx/qcat/internal/plugins/auth"
)

// Grant is what membership in one directory group confers.
type Grant struct {
	Permissions []Permission `yaml:"permissions"`
	Scopes      []string     `yaml:"scopes"`
}

// Grants maps directory group names to their grants. The file looks like:
//
//	groups:
//	  reviewers:
//	    permissions: [review, assign]
//	  unccd_focal_points_kh:
//	    permissions: [flag_unccd, unflag_unccd]
//	    scopes: [country_KH]
type Grants struct {
	Groups map[string]Grant `yaml:"groups"`
}

// LoadGrants reads a grants file. An empty path yields no grants.
func LoadGrants(path string) (*Grants, error) {
	if path == "" {
		return &Grants{Groups: map[string]Grant{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading grants file: %w", err)
	}
	g, err := ParseGrants(data)
	if err != nil {
		return nil, fmt.Errorf("parsing grants file %s: %w", path, err)
	}
	return g, nil
}

// ParseGrants decodes and validates grants YAML.
func ParseGrants(data []byte) (*Grants, error) {
	var g Grants
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	if g.Groups == nil {
		g.Groups = map[string]Grant{}
	}

	var errs []error
	for name, grant := range g.Groups {
		for _, p := range grant.Permissions {
			if !globalPermissions[p] {
				errs = append(errs, fmt.Errorf("group %q: permission %q cannot be granted globally", name, p))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &g, nil
}

// Facts derives the resolver facts of a user from their groups and scopes.
// Superusers hold every global permission with unrestricted scope.
func (g *Grants) Facts(u *auth.User) Facts {
	f := Facts{
		UserID:      u.ID,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}

	perms := make(map[Permission]bool)
	scopes := make(map[string]bool)
	for _, s := range u.Scopes {
		scopes[s] = true
	}
	for _, group := range u.Groups {
		grant, ok := g.Groups[group]
		if !ok {
			continue
		}
		for _, p := range grant.Permissions {
			perms[p] = true
		}
		for _, s := range grant.Scopes {
			scopes[s] = true
		}
	}
	if u.IsSuperuser {
		for p := range globalPermissions {
			perms[p] = true
		}
		scopes[ScopeAll] = true
	}

	for p := range perms {
		f.Global = append(f.Global, p)
	}
	sort.Slice(f.Global, func(i, j int) bool { return f.Global[i] < f.Global[j] })
	for s := range scopes {
		f.Scopes = append(f.Scopes, s)
	}
	sort.Strings(f.Scopes)
	return f
}

// GroupsWith returns the sorted names of the groups granting p.
func (g *Grants) GroupsWith(p Permission) []string {
	var out []string
	for name, grant := range g.Groups {
		for _, have := range grant.Permissions {
			if have == p {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
