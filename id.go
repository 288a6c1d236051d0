package polar

import "github.com/polarsource/polar-sub002/id"

// ID is the primary identifier type for all Polar entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
