package redis

const defaultPrefix = "polar:"

// lockKey returns the key holding a lock token: polar:lock:{name}
func (s *Store) lockKey(name string) string { return s.prefix + "lock:" + name }

// debounceKey returns the key holding a debounce record: polar:debounce:{key}
func (s *Store) debounceKey(key string) string { return s.prefix + "debounce:" + key }
