package main

import "errors"

// usageErr marks an error as caused by bad input (flags, config file,
// cron expression) rather than an internal failure, so main can choose
// exit code 2 over 70 per spec.md's exit-code table.
type usageErr struct{ err error }

func (u *usageErr) Error() string { return u.err.Error() }
func (u *usageErr) Unwrap() error { return u.err }

func wrapUsage(err error) error {
	if err == nil {
		return nil
	}
	return &usageErr{err: err}
}

func isUsageError(err error) bool {
	var u *usageErr
	return errors.As(err, &u)
}
