package devserver

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	memberdomain "pocus/internal/modules/membership/domain"
	"pocus/internal/platform/slug"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the fixture set a devserver starts with.
type Seed struct {
	Users        []SeedUser        `yaml:"users"`
	Institutions []SeedInstitution `yaml:"institutions"`
	Memberships  []SeedMembership  `yaml:"memberships"`
}

type SeedUser struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
}

type SeedInstitution struct {
	ID       string         `yaml:"id"`
	Slug     string         `yaml:"slug"`
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
}

// SeedMembership links a user (by email) to an institution (by slug).
type SeedMembership struct {
	Email       string `yaml:"email"`
	Institution string `yaml:"institution"`
	Role        string `yaml:"role"`
}

func DefaultSeed() (Seed, error) {
	return ParseSeed(defaultSeed)
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (Seed, error) {
	seed := Seed{}
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// load validates the fixtures and copies them into st.
func (seed Seed) load(st *store) error {
	for _, u := range seed.Users {
		userID, err := uuid.Parse(u.ID)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.Email, err)
		}
		email := normalizeEmail(u.Email)
		if email == "" {
			return fmt.Errorf("seed user %s has no email", u.ID)
		}
		st.users[email] = user{ID: userID, Email: email}
	}
	slugs := map[string]uuid.UUID{}
	for _, inst := range seed.Institutions {
		if strings.TrimSpace(inst.Slug) == "" {
			inst.Slug = slug.Make(inst.Name)
		}
		instID, err := uuid.Parse(inst.ID)
		if err != nil {
			return fmt.Errorf("seed institution %q: %w", inst.Slug, err)
		}
		settings := json.RawMessage(`{}`)
		if len(inst.Settings) > 0 {
			encoded, err := json.Marshal(inst.Settings)
			if err != nil {
				return fmt.Errorf("seed institution %q settings: %w", inst.Slug, err)
			}
			settings = encoded
		}
		st.institutions[instID] = memberdomain.Institution{ID: instID, Slug: inst.Slug, Name: inst.Name, Settings: settings}
		slugs[inst.Slug] = instID
	}
	for _, m := range seed.Memberships {
		u, ok := st.users[normalizeEmail(m.Email)]
		if !ok {
			return fmt.Errorf("seed membership references unknown user %q", m.Email)
		}
		instID, ok := slugs[m.Institution]
		if !ok {
			return fmt.Errorf("seed membership references unknown institution %q", m.Institution)
		}
		// Role strings are stored raw so clients see legacy spellings.
		st.memberships = append(st.memberships, membership{UserID: u.ID, InstitutionID: instID, Role: m.Role})
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
