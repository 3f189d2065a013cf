package eventlog

// TrimObserver is an optional callback invoked when trims delete ranges.
type TrimObserver interface {
	ObserveTrim(scope, topic string, partition uint32, minSeq, maxSeq uint64)
}

type noopObserver struct{}

func (noopObserver) ObserveTrim(string, string, uint32, uint64, uint64) {}
