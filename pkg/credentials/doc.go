// Package credentials stores access tokens and per-session and per-user state
// for the event broker.
//
// Every map is a bounded cache with a maximum age:
//
//	store := credentials.NewStore(credentials.StoreConfig{
//	    Capacity: 1000,
//	    MaxAge:   10 * time.Minute,
//	})
//	store.Add(token)
//	store.CheckValid(token) // true until MaxAge elapses or Expire(token)
//
// Inserting past capacity evicts the least recently accessed entry. Entries
// older than MaxAge are treated as absent on the next access; StartSweeper
// removes them eagerly as well.
//
// Tokens issued by another process can be checked through RedisTokens, which
// satisfies the same TokenValidator interface as Store.
package credentials
