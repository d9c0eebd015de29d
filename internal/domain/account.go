package domain

// AccountSelector identifies which brokerage account(s) a connection syncs.
// It is a tagged variant rather than a magic identifier: either one concrete
// account, or an aggregate over every account the token can see. The zero
// value selects nothing and means "not yet chosen".
type AccountSelector struct {
	all bool
	id  string
}

// SingleAccount selects one concrete brokerage account.
func SingleAccount(id string) AccountSelector {
	return AccountSelector{id: id}
}

// AllAccounts selects the aggregate of every account visible to the token.
func AllAccounts() AccountSelector {
	return AccountSelector{all: true}
}

// IsAll reports whether the selector aggregates all accounts.
func (s AccountSelector) IsAll() bool { return s.all }

// IsZero reports whether no selection has been made.
func (s AccountSelector) IsZero() bool { return !s.all && s.id == "" }

// AccountID returns the concrete account id and whether one is selected.
func (s AccountSelector) AccountID() (string, bool) {
	if s.all || s.id == "" {
		return "", false
	}
	return s.id, true
}
