package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/wordvault/custody"
	"github.com/jmcleod/wordvault/envelope"
	"github.com/jmcleod/wordvault/internal/uuid"
	"github.com/jmcleod/wordvault/storage"
)

const recordTypeItem = "item"

// Remote is the server side of item synchronisation.
type Remote interface {
	ListItems(ctx context.Context, limit, offset int) (*ItemPage, error)
	CreateItem(ctx context.Context, acct Account, item *Item) error
	UpdateItem(ctx context.Context, acct Account, item *Item) error
	DeleteItem(ctx context.Context, acct Account, itemID string) error
}

// Service performs item operations for one authenticated account. Every
// operation consults custody first and refuses to run without keys.
type Service struct {
	store  *custody.Store
	repo   storage.Repository
	remote Remote
	codec  *envelope.Codec
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	account *Account
}

// New returns a Service. repo is the local mirror; remote the server.
func New(store *custody.Store, repo storage.Repository, remote Remote, opts ...Option) *Service {
	s := &Service{
		store:  store,
		repo:   repo,
		remote: remote,
		codec:  envelope.NewCodec(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) openKeys() (*custody.Keys, *Account, error) {
	keys, err := s.store.Get()
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	acct := s.account
	s.mu.RUnlock()
	if acct == nil {
		keys.Destroy()
		return nil, nil, ErrNotLoaded
	}
	return keys, acct, nil
}

// Load binds the service to acct and replaces the local mirror with items,
// typically the snapshot returned at login.
func (s *Service) Load(ctx context.Context, acct Account, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.store.Installed() {
		return custody.ErrAbsent
	}
	if acct.UUID == "" || len(acct.UsernameHash) == 0 {
		return validationErrorf("account", "uuid and username hash are required")
	}
	if err := s.replaceMirror(acct.UUID, items); err != nil {
		return err
	}

	s.mu.Lock()
	s.account = &Account{UUID: acct.UUID, UsernameHash: append([]byte(nil), acct.UsernameHash...)}
	s.mu.Unlock()
	s.logger.Debug("vault loaded", "items", len(items))
	return nil
}

// Unload forgets the account. The local mirror keeps its envelopes.
func (s *Service) Unload() {
	s.mu.Lock()
	s.account = nil
	s.mu.Unlock()
}

// Sync pulls every item from the server into the local mirror.
func (s *Service) Sync(ctx context.Context) error {
	keys, acct, err := s.openKeys()
	if err != nil {
		return err
	}
	keys.Destroy()

	var items []Item
	for offset := 0; ; {
		page, err := s.remote.ListItems(ctx, MaxPageLimit, offset)
		if err != nil {
			return fmt.Errorf("listing remote items: %w", err)
		}
		items = append(items, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}
	return s.replaceMirror(acct.UUID, items)
}

func (s *Service) replaceMirror(namespace string, items []Item) error {
	existing, err := s.repo.List(namespace, recordTypeItem)
	if err != nil {
		return fmt.Errorf("listing local items: %w", err)
	}
	return s.repo.Batch(namespace, func(tx storage.BatchTx) error {
		for _, id := range existing {
			if err := tx.Delete(recordTypeItem, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		for i := range items {
			rec, err := storage.EncodeJSON(&items[i], 1)
			if err != nil {
				return err
			}
			if err := tx.Put(recordTypeItem, items[i].ID, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Create encrypts fields and stores a new item on the server, then in the
// local mirror. Nothing is written if any field fails to encrypt.
func (s *Service) Create(ctx context.Context, name string, t ItemType, fields map[string]string) (*Item, error) {
	keys, acct, err := s.openKeys()
	if err != nil {
		return nil, err
	}
	defer keys.Destroy()

	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateFields(t, fields); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	item := &Item{
		ID:        uuid.New(),
		Name:      name,
		Type:      t,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.Fields, err = s.encryptFields(ctx, keys, item.ID, fields)
	if err != nil {
		return nil, err
	}

	if err := s.remote.CreateItem(ctx, *acct, item); err != nil {
		return nil, fmt.Errorf("creating item on server: %w", err)
	}
	if err := s.putLocal(acct.UUID, item, 0); err != nil {
		return nil, err
	}
	s.logger.Debug("item created", "item_id", item.ID, "type", t)
	return item.Clone(), nil
}

// Get returns the item with its fields still sealed.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	keys, acct, err := s.openKeys()
	if err != nil {
		return nil, err
	}
	keys.Destroy()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, _, err := s.getLocal(acct.UUID, id)
	return item, err
}

// Reveal decrypts every field of the item. Fields are opened concurrently;
// any failure fails the whole call.
func (s *Service) Reveal(ctx context.Context, id string) (map[string]string, error) {
	keys, acct, err := s.openKeys()
	if err != nil {
		return nil, err
	}
	defer keys.Destroy()

	item, _, err := s.getLocal(acct.UUID, id)
	if err != nil {
		return nil, err
	}
	return s.decryptFields(ctx, keys, item)
}

// decryptFields opens every envelope of item concurrently. Any failure
// fails the whole call.
func (s *Service) decryptFields(ctx context.Context, keys *custody.Keys, item *Item) (map[string]string, error) {
	names := make([]string, 0, len(item.Fields))
	for name := range item.Fields {
		names = append(names, name)
	}
	values := make([]string, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pt, err := s.codec.DecryptField(keys.ContentKey(), keys.SigningKey(), item.ID, name, item.Fields[name])
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			values[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out, nil
}

// Update renames the item (when name is non-empty) and merges changes into
// its fields: a non-empty value sets the field, an empty value removes it,
// and fields not named in changes keep their value. The whole field set is
// re-encrypted under fresh IVs, including unchanged fields.
func (s *Service) Update(ctx context.Context, id, name string, changes map[string]string) (*Item, error) {
	keys, acct, err := s.openKeys()
	if err != nil {
		return nil, err
	}
	defer keys.Destroy()

	current, version, err := s.getLocal(acct.UUID, id)
	if err != nil {
		return nil, err
	}
	updated := current.Clone()
	if name != "" {
		if err := validateName(name); err != nil {
			return nil, err
		}
		updated.Name = name
	}
	for field := range changes {
		if !updated.Type.Allows(field) {
			return nil, validationErrorf("fields", "field %q is not allowed for %s items", field, updated.Type)
		}
	}

	fields, err := s.decryptFields(ctx, keys, current)
	if err != nil {
		return nil, err
	}
	for field, value := range changes {
		if value == "" {
			delete(fields, field)
			continue
		}
		fields[field] = value
	}
	if err := validateFields(updated.Type, fields); err != nil {
		return nil, err
	}

	updated.Fields, err = s.encryptFields(ctx, keys, updated.ID, fields)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.remote.UpdateItem(ctx, *acct, updated); err != nil {
		return nil, fmt.Errorf("updating item on server: %w", err)
	}
	if err := s.putLocal(acct.UUID, updated, version); err != nil {
		return nil, err
	}
	s.logger.Debug("item updated", "item_id", id)
	return updated.Clone(), nil
}

// Delete removes the item from the server, then from the local mirror.
func (s *Service) Delete(ctx context.Context, id string) error {
	keys, acct, err := s.openKeys()
	if err != nil {
		return err
	}
	keys.Destroy()

	if err := validateID(id); err != nil {
		return err
	}
	if err := s.remote.DeleteItem(ctx, *acct, id); err != nil {
		return fmt.Errorf("deleting item on server: %w", err)
	}
	err = s.repo.Delete(acct.UUID, recordTypeItem, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrNamespaceNotFound) {
		return fmt.Errorf("deleting local item: %w", err)
	}
	s.logger.Debug("item deleted", "item_id", id)
	return nil
}

// List returns a page of items from the local mirror ordered by ID.
func (s *Service) List(ctx context.Context, limit, offset int) (*ItemPage, error) {
	keys, acct, err := s.openKeys()
	if err != nil {
		return nil, err
	}
	keys.Destroy()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)
	offset = max(offset, 0)

	ids, err := s.repo.List(acct.UUID, recordTypeItem)
	if err != nil {
		return nil, fmt.Errorf("listing local items: %w", err)
	}
	page := &ItemPage{Total: len(ids), Limit: limit, Offset: offset, Items: []Item{}}
	if offset >= len(ids) {
		return page, nil
	}
	for _, id := range ids[offset:min(offset+limit, len(ids))] {
		item, _, err := s.getLocal(acct.UUID, id)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *item)
	}
	return page, nil
}

func (s *Service) encryptFields(ctx context.Context, keys *custody.Keys, itemID string, fields map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	envs := make([]string, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			env, err := s.codec.EncryptField(keys.ContentKey(), keys.SigningKey(), itemID, name, fields[name])
			if err != nil {
				return err
			}
			envs[i] = env
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = envs[i]
	}
	return out, nil
}

func (s *Service) getLocal(namespace, id string) (*Item, uint64, error) {
	if err := validateID(id); err != nil {
		return nil, 0, err
	}
	rec, err := s.repo.Get(namespace, recordTypeItem, id)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil, 0, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading local item: %w", err)
	}
	var item Item
	if err := storage.DecodeJSON(rec, &item); err != nil {
		return nil, 0, err
	}
	return &item, rec.Version, nil
}

func (s *Service) putLocal(namespace string, item *Item, expectedVersion uint64) error {
	rec, err := storage.EncodeJSON(item, expectedVersion+1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(namespace, recordTypeItem, item.ID, expectedVersion, rec); err != nil {
		return fmt.Errorf("writing local item: %w", err)
	}
	return nil
}
