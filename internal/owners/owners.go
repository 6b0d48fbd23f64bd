// Package owners keeps the local directory of groups and teachers and the
// one picked owner per kind.
package owners

import (
	"context"
	"fmt"

	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/store"
)

// Directory lists the owners known to the remote site.
type Directory interface {
	FetchOwners(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error)
}

// Store persists owners and their picked flag.
type Store interface {
	PutOwners(ctx context.Context, owners []model.Owner) error
	ListOwners(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error)
	ClearPicked(ctx context.Context, kind model.OwnerKind) error
	SetPicked(ctx context.Context, owner model.OwnerKey) error
	PickedOwner(ctx context.Context, kind model.OwnerKind) (model.Owner, bool, error)
}

type Service struct {
	dir   Directory
	store Store
}

func NewService(dir Directory, st Store) *Service {
	return &Service{dir: dir, store: st}
}

// Sync refreshes the local directory for kind. Owners that disappeared from
// the site are kept; a picked owner stays picked.
func (s *Service) Sync(ctx context.Context, kind model.OwnerKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, kind)
	}
	list, err := s.dir.FetchOwners(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("owners: fetch %s directory: %w", kind, err)
	}
	for i := range list {
		list[i].Kind = kind
		list[i].IsPicked = false
	}
	if err := s.store.PutOwners(ctx, list); err != nil {
		return 0, fmt.Errorf("owners: store %s directory: %w", kind, err)
	}
	appLog.Info("owner directory synced", "kind", kind, "count", len(list))
	return len(list), nil
}

func (s *Service) List(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, kind)
	}
	return s.store.ListOwners(ctx, kind)
}

// Pick makes owner the only picked owner of its kind. An owner missing from
// the local directory yields store.ErrNotFound and leaves the current pick.
func (s *Service) Pick(ctx context.Context, owner model.OwnerKey) (model.Owner, error) {
	if !owner.Kind.Valid() {
		return model.Owner{}, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, owner.Kind)
	}
	list, err := s.store.ListOwners(ctx, owner.Kind)
	if err != nil {
		return model.Owner{}, err
	}
	var target model.Owner
	found := false
	for _, o := range list {
		if o.ID == owner.ID {
			target, found = o, true
			break
		}
	}
	if !found {
		return model.Owner{}, fmt.Errorf("%w: owner %s", store.ErrNotFound, owner)
	}

	if err := s.store.ClearPicked(ctx, owner.Kind); err != nil {
		return model.Owner{}, err
	}
	if err := s.store.SetPicked(ctx, owner); err != nil {
		return model.Owner{}, err
	}
	target.IsPicked = true
	appLog.Info("owner picked", "owner", owner, "name", target.Name)
	return target, nil
}

// Picked returns the picked owner of kind; ok is false when none is.
func (s *Service) Picked(ctx context.Context, kind model.OwnerKind) (model.Owner, bool, error) {
	if !kind.Valid() {
		return model.Owner{}, false, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, kind)
	}
	return s.store.PickedOwner(ctx, kind)
}
