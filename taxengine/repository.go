package taxengine

import "context"

// ProfileRepository is the system of record for profiles and rates. A
// missing entry is (nil, nil), not an error.
type ProfileRepository interface {
	GetProfile(ctx context.Context, clientID string) (*Profile, error)
	GetIvaRate(ctx context.Context, jurisdiction string) (*IvaRate, error)
}

// ProfileCache sits in front of a ProfileRepository. Misses are (nil, nil).
type ProfileCache interface {
	GetProfile(ctx context.Context, clientID string) (*Profile, error)
	SetProfile(ctx context.Context, profile *Profile) error
	GetIvaRate(ctx context.Context, jurisdiction string) (*IvaRate, error)
	SetIvaRate(ctx context.Context, rate *IvaRate) error
}
