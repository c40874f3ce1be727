package workers

import "github.com/liamvmurphy/pokestock-sub001/models"

// LogFunc is a function that logs to the monitor_logs table
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
