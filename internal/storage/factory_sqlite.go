//go:build sqlite

package storage

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

// DefaultStoreKind prefers sqlite when the binary was built with it.
func DefaultStoreKind() string {
	return KindSQLite
}
