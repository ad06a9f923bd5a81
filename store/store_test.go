package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tax-rpc/taxengine"
)

// The repositories and the cache must satisfy the engine's interfaces.
var (
	_ taxengine.ProfileRepository = (*LevelDB)(nil)
	_ taxengine.ProfileRepository = (*Memory)(nil)
	_ taxengine.ProfileCache      = (*LRUCache)(nil)
	_ Writer                      = (*LevelDB)(nil)
	_ Writer                      = (*Memory)(nil)
)

func testRepository(t *testing.T, repo interface {
	taxengine.ProfileRepository
	Writer
}) {
	ctx := context.Background()

	if p, err := repo.GetProfile(ctx, "client_1"); p != nil || err != nil {
		t.Fatalf("expect miss, got %v %v", p, err)
	}
	if r, err := repo.GetIvaRate(ctx, "TEST_J"); r != nil || err != nil {
		t.Fatalf("expect miss, got %v %v", r, err)
	}

	profile := &taxengine.Profile{
		ClientID:       "client_1",
		FiscalCategory: taxengine.CategoryResponsableInscripto,
		Config:         map[string]any{"region": "AR"},
	}
	if err := repo.PutProfile(ctx, profile); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutIvaRate(ctx, &taxengine.IvaRate{Jurisdiction: "TEST_J", Rate: 0.08}); err != nil {
		t.Fatal(err)
	}

	p, err := repo.GetProfile(ctx, "client_1")
	if err != nil || p == nil {
		t.Fatalf("expect profile, got %v %v", p, err)
	}
	if p.FiscalCategory != taxengine.CategoryResponsableInscripto || p.Config["region"] != "AR" {
		t.Fatalf("unexpected profile %+v", p)
	}
	r, err := repo.GetIvaRate(ctx, "TEST_J")
	if err != nil || r == nil || r.Rate != 0.08 {
		t.Fatalf("unexpected rate %v %v", r, err)
	}
}

func TestLevelDBMemory(t *testing.T) {
	db, err := NewMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	testRepository(t, db)
}

func TestLevelDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tax.db")
	db, err := OpenLevelDB(path)
	if err != nil {
		t.Fatal(err)
	}
	testRepository(t, db)
	db.Close()

	// Data survives a reopen.
	db, err = OpenLevelDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if p, _ := db.GetProfile(context.Background(), "client_1"); p == nil {
		t.Fatal("profile lost after reopen")
	}
}

func TestMemory(t *testing.T) {
	testRepository(t, NewMemory())
}

func TestLRUCacheExpiry(t *testing.T) {
	c, err := NewLRUCache(8, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.SetProfile(ctx, &taxengine.Profile{ClientID: "c1", FiscalCategory: "RI"})
	c.SetIvaRate(ctx, &taxengine.IvaRate{Jurisdiction: "J1", Rate: 0.1})

	if p, _ := c.GetProfile(ctx, "c1"); p == nil || p.FiscalCategory != "RI" {
		t.Fatalf("expect cached profile, got %v", p)
	}

	now = now.Add(59 * time.Second)
	if r, _ := c.GetIvaRate(ctx, "J1"); r == nil || r.Rate != 0.1 {
		t.Fatalf("expect cached rate, got %v", r)
	}

	now = now.Add(time.Second)
	if p, _ := c.GetProfile(ctx, "c1"); p != nil {
		t.Fatal("expired profile returned")
	}
	if r, _ := c.GetIvaRate(ctx, "J1"); r != nil {
		t.Fatal("expired rate returned")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entries not dropped: %d", c.Len())
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c, err := NewLRUCache(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.ttl != DefaultCacheTTL {
		t.Fatalf("expect default ttl, got %v", c.ttl)
	}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		c.SetProfile(ctx, &taxengine.Profile{ClientID: id})
	}
	if p, _ := c.GetProfile(ctx, "a"); p != nil {
		t.Fatal("least recently used entry not evicted")
	}
	if p, _ := c.GetProfile(ctx, "c"); p == nil {
		t.Fatal("newest entry missing")
	}
}

func TestLRUCacheCopies(t *testing.T) {
	c, _ := NewLRUCache(2, time.Minute)
	ctx := context.Background()
	p := &taxengine.Profile{ClientID: "c1", FiscalCategory: "RI"}
	c.SetProfile(ctx, p)
	p.FiscalCategory = "changed"

	got, _ := c.GetProfile(ctx, "c1")
	if got.FiscalCategory != "RI" {
		t.Fatal("cached value aliased the caller's struct")
	}
}

func TestNewLRUCacheInvalidSize(t *testing.T) {
	if _, err := NewLRUCache(0, time.Minute); err == nil {
		t.Fatal("expect error for size 0")
	}
}

const seedYAML = `
profiles:
  - client_id: client_1
    fiscal_category: RESPONSABLE_INSCRIPTO
  - client_id: client_2
    fiscal_category: MONOTRIBUTO
    config:
      note: small
iva_rates:
  - jurisdiction: DEFAULT
    rate: 0.21
  - jurisdiction: TEST_J
    rate: 0.08
`

func TestSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Profiles) != 2 || len(seed.IvaRates) != 2 {
		t.Fatalf("unexpected seed %+v", seed)
	}

	mem := NewMemory()
	if err := seed.Apply(context.Background(), mem); err != nil {
		t.Fatal(err)
	}
	p, _ := mem.GetProfile(context.Background(), "client_2")
	if p == nil || p.Config["note"] != "small" {
		t.Fatalf("unexpected profile %+v", p)
	}
	r, _ := mem.GetIvaRate(context.Background(), "TEST_J")
	if r == nil || r.Rate != 0.08 {
		t.Fatalf("unexpected rate %+v", r)
	}
}

func TestSeedInvalid(t *testing.T) {
	cases := []string{
		"profiles: [{fiscal_category: RI}]",
		"iva_rates: [{jurisdiction: X, rate: -1}]",
		"profiles: {not: a list}",
	}
	for _, data := range cases {
		if _, err := ParseSeed([]byte(data)); err == nil {
			t.Fatalf("expect error for %q", data)
		}
	}
}
