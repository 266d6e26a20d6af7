package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// MemoryDirectory serves products and users from memory. The real catalog and
// account data live outside chat; this stands in for them in development and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	products map[string]*entity.Product
	users    map[string]*entity.User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		products: make(map[string]*entity.Product),
		users:    make(map[string]*entity.User),
	}
}

func (d *MemoryDirectory) PutProduct(p *entity.Product) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.products[p.ID] = &cp
}

func (d *MemoryDirectory) PutUser(u *entity.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	d.users[u.ID] = &cp
}

type directorySeed struct {
	Products []*entity.Product `json:"products"`
	Users    []*entity.User    `json:"users"`
}

// LoadSeed reads a JSON document of the form {"products": [...], "users": [...]}.
func (d *MemoryDirectory) LoadSeed(r io.Reader) error {
	var seed directorySeed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode directory seed: %w", err)
	}
	for _, p := range seed.Products {
		if p.ID == "" || p.SellerID == "" {
			return fmt.Errorf("seed product needs id and seller_id")
		}
		d.PutProduct(p)
	}
	for _, u := range seed.Users {
		if u.ID == "" {
			return fmt.Errorf("seed user needs id")
		}
		d.PutUser(u)
	}
	return nil
}

func (d *MemoryDirectory) Products() repository.ProductRepository {
	return memoryProducts{d}
}

func (d *MemoryDirectory) Users() repository.UserRepository {
	return memoryUsers{d}
}

type memoryProducts struct{ d *MemoryDirectory }

func (m memoryProducts) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	p, ok := m.d.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	cp := *p
	return &cp, nil
}

type memoryUsers struct{ d *MemoryDirectory }

func (m memoryUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	u, ok := m.d.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	cp := *u
	return &cp, nil
}
