package playback

import "github.com/banshee-data/pulse.report/internal/monitoring"

var logger = monitoring.NewLogger("[playback] ")

func opsf(format string, args ...interface{})   { logger.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logger.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logger.Tracef(format, args...) }
