package utils

// Must panics if err is non-nil, otherwise returns v. Used for
// initialization code where an error is always a programming or
// configuration mistake (e.g. constructing a logger).
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
