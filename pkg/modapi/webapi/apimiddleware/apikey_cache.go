package apimiddleware

import (
	"sync"

	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/modvault/modvault/pkg/moddb/stor"
)

type APIKeyCache struct {
	apikeyCacheMu sync.RWMutex
	cache         map[string]*modmodel.User
	lookup        GetUserByAPIKeyFN
}

func NewAPIKeyCache(userStor stor.UserStor) *APIKeyCache {
	return &APIKeyCache{
		cache:  make(map[string]*modmodel.User),
		lookup: userStor.GetUserByAPIToken,
	}
}

func (c *APIKeyCache) GetUserByAPIKey(apikey string) (*modmodel.User, error) {
	c.apikeyCacheMu.RLock()
	if user, ok := c.cache[apikey]; ok {
		c.apikeyCacheMu.RUnlock()
		return user, nil
	}
	c.apikeyCacheMu.RUnlock()

	c.apikeyCacheMu.Lock()
	defer c.apikeyCacheMu.Unlock()

	// Another request may have loaded the user between the two locks.
	if user, ok := c.cache[apikey]; ok {
		return user, nil
	}

	user, err := c.lookup(apikey)
	if err != nil {
		return nil, err
	}

	c.cache[apikey] = user
	return user, nil
}

func (c *APIKeyCache) DeleteUserByAPIKey(apikey string) {
	c.apikeyCacheMu.Lock()
	defer c.apikeyCacheMu.Unlock()
	delete(c.cache, apikey)
}
