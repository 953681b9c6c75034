package telemetry

import (
	"sync"
)

type ReportLevel int

const (
	LEVEL_DEBUG ReportLevel = iota
	LEVEL_WARNING
	LEVEL_BROKEN
	LEVEL_COUNT
)

type Report struct {
	Level  ReportLevel
	Id     string
	Params []any
	Count  int64
}

// MemoryAPI keeps every report in memory, it is meant for tests that assert
// on what a component reported.
type MemoryAPI struct {
	lock    sync.Mutex
	reports []Report
}

func (m *MemoryAPI) push(r Report) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reports = append(m.reports, r)
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.push(Report{Level: LEVEL_BROKEN, Id: id, Params: params})
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.push(Report{Level: LEVEL_WARNING, Id: id, Params: params})
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.push(Report{Level: LEVEL_DEBUG, Id: msg, Params: params})
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.push(Report{Level: LEVEL_COUNT, Id: id, Count: count})
}

// Reports returns a copy of the reports at or above the given level.
func (m *MemoryAPI) Reports(min ReportLevel) []Report {
	m.lock.Lock()
	defer m.lock.Unlock()

	var out []Report
	for _, r := range m.reports {
		if r.Level == LEVEL_COUNT && min != LEVEL_COUNT {
			continue
		}
		if r.Level >= min {
			out = append(out, r)
		}
	}
	return out
}
