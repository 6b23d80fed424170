package driver

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/CaliLuke/go-sqlwrap/escape"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// Vendor describes a database/sql driver that connections delegate to.
type Vendor struct {
	// Name is the registry key, also used in logs and metrics.
	Name string
	// Driver opens vendor connections.
	Driver driver.Driver
	// Dialect renders escape syntax for this vendor.
	Dialect *escape.Dialect
	// Extract pulls error code and SQLSTATE out of vendor errors.
	Extract sqlerr.Extractor
}

var (
	vendorsMu sync.RWMutex
	vendors   = make(map[string]*Vendor)
)

func init() {
	Register(&Vendor{
		Name:    "sqlite",
		Driver:  &sqlite.Driver{},
		Dialect: escape.SQLite,
		Extract: sqlerr.SQLite,
	})
	Register(&Vendor{
		Name:    "postgres",
		Driver:  &pq.Driver{},
		Dialect: escape.Postgres,
		Extract: sqlerr.Postgres,
	})
}

// Register makes a vendor available by name. It panics if v is incomplete or
// the name is already taken.
func Register(v *Vendor) {
	if v == nil || v.Driver == nil {
		panic("driver: Register vendor is nil")
	}
	if v.Name == "" {
		panic("driver: Register vendor without a name")
	}
	vendorsMu.Lock()
	defer vendorsMu.Unlock()
	if _, dup := vendors[v.Name]; dup {
		panic("driver: Register called twice for vendor " + v.Name)
	}
	vendors[v.Name] = v
}

// Lookup returns the vendor registered under name.
func Lookup(name string) (*Vendor, error) {
	vendorsMu.RLock()
	defer vendorsMu.RUnlock()
	v, ok := vendors[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVendor, name)
	}
	return v, nil
}

// Vendors returns the sorted names of the registered vendors.
func Vendors() []string {
	vendorsMu.RLock()
	defer vendorsMu.RUnlock()
	names := make([]string, 0, len(vendors))
	for name := range vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dialect returns the vendor dialect, falling back to SQLite syntax.
func (v *Vendor) dialect() *escape.Dialect {
	if v.Dialect == nil {
		return escape.SQLite
	}
	return v.Dialect
}
