package zookeeper

import log "github.com/sirupsen/logrus"

type prefixHook string

func (p prefixHook) Levels() []log.Level {
	return log.AllLevels
}

func (p prefixHook) Fire(entry *log.Entry) error {
	entry.Message = string(p) + entry.Message
	return nil
}

// newLogger returns the logger handed to the zk library, so its connection
// chatter goes through logrus with a recognizable prefix.
func newLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.GetLevel())
	l.SetFormatter(log.StandardLogger().Formatter)
	l.AddHook(prefixHook("zookeeper: "))
	return l
}
