package arq

import (
	"sync/atomic"
	"time"
)

// Metrics counts one session's wire activity. Counters are written with
// atomics: the session loop increments them while the collector
// goroutine and the application read them.
type Metrics struct {
	RxBytes       uint64
	TxBytes       uint64
	RxPackets     uint64
	TxPackets     uint64
	Retransmits   uint64
	DroppedFrames uint64
	RxBytesLast   uint64
	TxBytesLast   uint64
	RxBandwidth   uint64
	TxBandwidth   uint64

	RxBandwidthOverTime []uint64
	TxBandwidthOverTime []uint64

	timeInterval int
	signalChan   chan bool
	collecting   bool
}

// NewMetrics creates metrics with the given bandwidth sampling interval
// in milliseconds.
func NewMetrics(timeInterval int) *Metrics {
	m := Metrics{
		timeInterval:        timeInterval,
		signalChan:          make(chan bool),
		RxBandwidthOverTime: make([]uint64, 0),
		TxBandwidthOverTime: make([]uint64, 0),
	}
	return &m
}

func (m *Metrics) AddRx(bytes uint64) {
	atomic.AddUint64(&m.RxBytes, bytes)
	atomic.AddUint64(&m.RxPackets, 1)
}

func (m *Metrics) AddTx(bytes uint64) {
	atomic.AddUint64(&m.TxBytes, bytes)
	atomic.AddUint64(&m.TxPackets, 1)
}

func (m *Metrics) AddRetransmit() {
	atomic.AddUint64(&m.Retransmits, 1)
}

func (m *Metrics) AddDroppedFrame() {
	atomic.AddUint64(&m.DroppedFrames, 1)
}

// Collect samples bandwidth every timeInterval until Stop is called.
func (m *Metrics) Collect() {
	m.collecting = true
	go func() {
		for {
			select {
			case res := <-m.signalChan:
				if res {
					return
				}
			case <-time.After(time.Duration(m.timeInterval) * time.Millisecond):
				rx := atomic.LoadUint64(&m.RxBytes)
				tx := atomic.LoadUint64(&m.TxBytes)
				atomic.StoreUint64(&m.RxBandwidth, rx-m.RxBytesLast)
				atomic.StoreUint64(&m.TxBandwidth, tx-m.TxBytesLast)
				m.RxBandwidthOverTime = append(m.RxBandwidthOverTime, rx-m.RxBytesLast)
				m.TxBandwidthOverTime = append(m.TxBandwidthOverTime, tx-m.TxBytesLast)
				m.RxBytesLast = rx
				m.TxBytesLast = tx
			}
		}
	}()
}

func (m *Metrics) Stop() {
	if !m.collecting {
		return
	}
	m.collecting = false
	m.signalChan <- true
}
