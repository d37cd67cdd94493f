package lockstore

import (
	"context"
	"fmt"
	"strings"
)

// GetOrCreateLockResource returns the resource for (namespaceID, localName),
// creating it if it does not exist yet. The local name is folded to lowercase.
//
// A lost creation race is not an error: the resource identity is permanent, so
// the winner's row is fetched and returned instead.
func GetOrCreateLockResource(ctx context.Context, store ILockStore, namespaceID int64, localName string) (*LockResource, error) {
	localName = strings.ToLower(localName)

	resource, err := store.GetLockResource(ctx, namespaceID, localName)
	if err != nil {
		return nil, err
	}
	if resource != nil {
		return resource, nil
	}

	resource, err = store.CreateLockResource(ctx, namespaceID, localName)
	if err == nil {
		return resource, nil
	}
	if !IsResourceAlreadyExists(err) {
		return nil, err
	}

	// Someone else created it between our read and our insert
	resource, err = store.GetLockResource(ctx, namespaceID, localName)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, NewError(RetCInternalError,
			fmt.Sprintf("lock resource %d:%s reported as existing but could not be read", namespaceID, localName))
	}
	return resource, nil
}

// GetOrCreateLockResources resolves every name in order and returns the ids in
// the same order.
func GetOrCreateLockResources(ctx context.Context, store ILockStore, namespaceID int64, localNames []string) ([]ResourceID, error) {
	ids := make([]ResourceID, 0, len(localNames))
	for _, name := range localNames {
		resource, err := GetOrCreateLockResource(ctx, store, namespaceID, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, resource.ID)
	}
	return ids, nil
}
