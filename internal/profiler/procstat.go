// Package profiler implements the sampling profiler (C4): a periodic
// CPU/memory probe of a running command's process subtree. Grounded on
// internal/trace/trace.go in the teacher, which reads /proc/stat and
// /proc/meminfo directly rather than linking a process-monitoring
// library -- no such library (e.g. gopsutil) appears anywhere in the
// retrieval pack, so Smelt reads /proc the same way the teacher does,
// generalized from system-wide counters to one process subtree.
package profiler

import (
	"os"
	"strconv"
	"strings"
)

// procStat is the subset of /proc/<pid>/stat fields the profiler needs:
// parent pid (to walk the subtree) and accumulated CPU ticks.
type procStat struct {
	pid        int
	ppid       int
	utimeTicks uint64
	stimeTicks uint64
}

func readProcStat(pid int) (procStat, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procStat{}, false
	}
	s := string(b)
	// The comm field (2nd field) is parenthesized and may itself contain
	// spaces or closing parens, so fields are indexed from the last ')'.
	close := strings.LastIndexByte(s, ')')
	if close < 0 {
		return procStat{}, false
	}
	fields := strings.Fields(s[close+1:])
	// After the comm field: state(0) ppid(1) pgrp(2) ... utime(11) stime(12)
	// (0-indexed into `fields`, which starts at the "state" field).
	if len(fields) < 14 {
		return procStat{}, false
	}
	ppid, _ := strconv.Atoi(fields[1])
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	return procStat{pid: pid, ppid: ppid, utimeTicks: utime, stimeTicks: stime}, true
}

func readProcRSSBytes(pid int) (uint64, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

func listPIDs() []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// subtreePIDs returns root and every descendant of root currently visible
// under /proc, by scanning every process's ppid (there is no cheaper
// indexed way to do this from procfs alone).
func subtreePIDs(root int) []int {
	all := listPIDs()
	children := make(map[int][]int, len(all))
	alive := make(map[int]bool, len(all))
	for _, pid := range all {
		if st, ok := readProcStat(pid); ok {
			children[st.ppid] = append(children[st.ppid], pid)
			alive[pid] = true
		}
	}
	if !alive[root] {
		return nil
	}
	var out []int
	var walk func(int)
	walk = func(pid int) {
		out = append(out, pid)
		for _, c := range children[pid] {
			walk(c)
		}
	}
	walk(root)
	return out
}
