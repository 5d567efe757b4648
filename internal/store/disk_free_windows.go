//go:build windows

package store

import "golang.org/x/sys/windows"

func freeBytes(path string) int64 {
	var availToCaller, total, totalFree uint64
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0
	}
	if err := windows.GetDiskFreeSpaceEx(p, &availToCaller, &total, &totalFree); err != nil {
		return 0
	}
	return int64(availToCaller)
}
