package sqlstore

import "database/sql"

// Stores groups every store backed by one database
type Stores struct {
	DB          *sql.DB
	Users       *UserStore
	Memberships *MembershipStore
	Seats       *SeatEnforcer
	SSOConfigs  *SSOConfigStore
}

// NewStores wires all stores to db
func NewStores(db *sql.DB) *Stores {
	return &Stores{
		DB:          db,
		Users:       NewUserStore(db),
		Memberships: NewMembershipStore(db),
		Seats:       NewSeatEnforcer(db),
		SSOConfigs:  NewSSOConfigStore(db),
	}
}
