package credentials

import "errors"

type teeStore struct {
	primary  Store
	replicas []Store
}

// Tee reads from primary and writes to primary and every replica. It lets
// an agent keep the cookie jar authoritative while mirroring it to disk.
func Tee(primary Store, replicas ...Store) Store {
	return &teeStore{primary: primary, replicas: replicas}
}

func (t *teeStore) SetCredentials(access, refresh string, attrs Attributes) error {
	errs := []error{t.primary.SetCredentials(access, refresh, attrs)}
	for _, r := range t.replicas {
		errs = append(errs, r.SetCredentials(access, refresh, attrs))
	}
	return errors.Join(errs...)
}

func (t *teeStore) ClearCredentials() error {
	errs := []error{t.primary.ClearCredentials()}
	for _, r := range t.replicas {
		errs = append(errs, r.ClearCredentials())
	}
	return errors.Join(errs...)
}

func (t *teeStore) AccessCredential() (string, bool)  { return t.primary.AccessCredential() }
func (t *teeStore) RefreshCredential() (string, bool) { return t.primary.RefreshCredential() }
func (t *teeStore) HasCredential() bool               { return t.primary.HasCredential() }
func (t *teeStore) Attributes() (Attributes, bool)    { return t.primary.Attributes() }
