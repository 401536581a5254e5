package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// FindMountpoint returns the mountpoint of the cgroup v1 hierarchy carrying
// the given subsystem, by scanning /proc/self/mountinfo. Factory callers
// use this instead of assuming /sys/fs/cgroup when a container's mount
// layout isn't the host default.
func FindMountpoint(subsystem string) (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", fmt.Errorf("open mountinfo: %w", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Split(s.Text(), " ")
		if len(fields) < 5 {
			continue
		}

		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		if sep < 0 || sep+3 >= len(fields) {
			continue
		}
		superOptions := fields[sep+3]

		for _, opt := range strings.Split(superOptions, ",") {
			if opt == subsystem {
				return fields[4], nil
			}
		}
	}
	if err := s.Err(); err != nil {
		return "", fmt.Errorf("scan mountinfo: %w", err)
	}
	return "", fmt.Errorf("cgroup subsystem %s not mounted", subsystem)
}
