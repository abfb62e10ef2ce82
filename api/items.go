package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/wordvault/storage"
	"github.com/jmcleod/wordvault/vault"
)

// ListItems handles GET /vault/items.
func (a *API) ListItems(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	items, err := a.accountItems(session.AccountUUID)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, offset := parsePagination(r)
	start, end, meta := paginateSlice(len(items), limit, offset)
	writeJSON(w, http.StatusOK, ListItemsResponse{
		Items:      items[start:end],
		Pagination: meta,
	})
}

// CreateItem handles POST /vault/items. The item ID is chosen by the
// client; an existing ID is a conflict.
func (a *API) CreateItem(w http.ResponseWriter, r *http.Request) {
	session, req, ok := a.decodeItemMutation(w, r)
	if !ok {
		return
	}
	item := req.Item
	if err := item.Validate(); err != nil {
		mapError(w, err)
		return
	}
	stored, err := storage.EncodeJSON(item, 1)
	if err != nil {
		writeInternalError(w, "failed to encode item", err)
		return
	}
	if err := a.repo.PutCAS(session.AccountUUID, itemRecordType, item.ID, 0, stored); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			writeError(w, http.StatusConflict, "item already exists")
			return
		}
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditItemCreated, r, session.AccountUUID, slog.String("item_id", item.ID))
	writeJSON(w, http.StatusCreated, item)
}

// UpdateItem handles PUT /vault/items/{id}.
func (a *API) UpdateItem(w http.ResponseWriter, r *http.Request) {
	session, req, ok := a.decodeItemMutation(w, r)
	if !ok {
		return
	}
	item := req.Item
	if item.ID != chi.URLParam(r, "id") {
		writeError(w, http.StatusBadRequest, "item id does not match path")
		return
	}
	if err := item.Validate(); err != nil {
		mapError(w, err)
		return
	}
	existing, err := a.repo.Get(session.AccountUUID, itemRecordType, item.ID)
	if err != nil {
		mapError(w, itemNotFound(err))
		return
	}
	stored, err := storage.EncodeJSON(item, existing.Version+1)
	if err != nil {
		writeInternalError(w, "failed to encode item", err)
		return
	}
	if err := a.repo.PutCAS(session.AccountUUID, itemRecordType, item.ID, existing.Version, stored); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditItemUpdated, r, session.AccountUUID, slog.String("item_id", item.ID))
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /vault/items/{id}. The signed body names the
// item again so the signature covers the deletion target.
func (a *API) DeleteItem(w http.ResponseWriter, r *http.Request) {
	session, req, ok := a.decodeItemMutation(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if req.Item.ID != id {
		writeError(w, http.StatusBadRequest, "item id does not match path")
		return
	}
	if _, err := a.repo.Get(session.AccountUUID, itemRecordType, id); err != nil {
		mapError(w, itemNotFound(err))
		return
	}
	if err := a.repo.Delete(session.AccountUUID, itemRecordType, id); err != nil {
		mapError(w, itemNotFound(err))
		return
	}
	a.audit.logEvent(AuditItemDeleted, r, session.AccountUUID, slog.String("item_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decodeItemMutation(w http.ResponseWriter, r *http.Request) (AuthSession, ItemMutationRequest, bool) {
	session, _ := sessionFromContext(r.Context())
	req, ok := decodeJSON[ItemMutationRequest](w, r, maxItemBodySize)
	if !ok {
		return session, req, false
	}
	if !sameAccount(session, req.UUID, req.UsernameHash) {
		writeError(w, http.StatusForbidden, "account mismatch")
		return session, req, false
	}
	return session, req, true
}

func sameAccount(session AuthSession, accountUUID string, usernameHash []byte) bool {
	return session.AccountUUID == accountUUID &&
		subtle.ConstantTimeCompare(session.UsernameHash, usernameHash) == 1
}

func itemNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return vault.ErrItemNotFound
	}
	return err
}
