// internal/domain/pickup/repository.go
package pickup

import "context"

// Repository persists location state. SaveLocation must replace the stored
// state of that location atomically: either all of it is written or none.
type Repository interface {
	LoadLocations(ctx context.Context) ([]*LocationState, error)
	SaveLocation(ctx context.Context, state *LocationState) error
	DeleteLocation(ctx context.Context, locationID string) error
}
