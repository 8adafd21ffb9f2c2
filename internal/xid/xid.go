package xid

import (
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks ids minted on the client while offline. Server ids never carry it.
const LocalPrefix = "local_"

func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Local returns a provisional record id.
func Local() string {
	return LocalPrefix + uuid.NewString()
}

func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}
