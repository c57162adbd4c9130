package fee

import "time"

// SetNowFunc replaces the clock until the returned func is called.
func SetNowFunc(f func() time.Time) (reset func()) {
	old := nowFunc
	nowFunc = f
	return func() { nowFunc = old }
}
