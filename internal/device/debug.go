package device

import "github.com/banshee-data/pulse.report/internal/monitoring"

var logger = monitoring.NewLogger("[device] ")
