package mock

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Seed describes the initial state of an API.
//
//	{
//	  "lists": [{"id": "l1", "list": "Newsletter", "primary": true}],
//	  "contacts": {"l1": [{"email": "jane@example.com", "tags": ["vip"]}]}
//	}
//
// Contacts are keyed by list id or name. When Lists is empty the existing
// lists are kept.
type Seed struct {
	Lists    []List                      `json:"lists"`
	Contacts map[string][]map[string]any `json:"contacts"`
}

// LoadSeed reads a Seed from a JSON file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("mock: read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("mock: decode seed %s: %w", path, err)
	}
	return seed, nil
}

// Seed loads lists and contacts into the API.
func (a *API) Seed(seed Seed) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(seed.Lists) > 0 {
		a.books = a.books[:0]
		for _, l := range seed.Lists {
			if strings.TrimSpace(l.ID) == "" {
				return fmt.Errorf("mock: seed list missing id")
			}
			if l.List == "" {
				l.List = l.ID
			}
			a.books = append(a.books, &book{list: l, records: make(map[string]*record)})
		}
	}
	for list, contacts := range seed.Contacts {
		b := a.book(list)
		if b == nil {
			return fmt.Errorf("mock: seed references unknown list %q", list)
		}
		for _, fields := range contacts {
			if _, err := a.insert(b, fields); err != nil {
				return fmt.Errorf("mock: seed list %q: %w", list, err)
			}
		}
	}
	return nil
}
