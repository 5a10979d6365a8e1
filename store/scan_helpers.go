package store

import "time"

const timeLayout = "2006-01-02 15:04:05"

func scanTime(s string) time.Time {
	t, _ := time.ParseInLocation(timeLayout, s, time.Local)
	return t
}

type rowScanner interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}
