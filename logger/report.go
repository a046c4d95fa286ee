package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsServer      int64
	errorsWatcher     int64
	warnsServer       int64
	warnsWatcher      int64
	requestsHandled   int64
	pushesSent        int64
	triggersFired     int64
	quoteUpdates      int64
	activeConnections int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "watcher") {
		atomic.AddInt64(&warnsWatcher, 1)
	} else if strings.Contains(component, "server") || strings.Contains(component, "session") {
		atomic.AddInt64(&warnsServer, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "watcher") {
		atomic.AddInt64(&errorsWatcher, 1)
	} else if strings.Contains(component, "server") || strings.Contains(component, "session") {
		atomic.AddInt64(&errorsServer, 1)
	}
}

func IncrementRequest(size int) {
	atomic.AddInt64(&requestsHandled, 1)
	recordChannel("request_in", size)
}

func IncrementPush(size int) {
	atomic.AddInt64(&pushesSent, 1)
	recordChannel("push_out", size)
}

func IncrementTrigger() {
	atomic.AddInt64(&triggersFired, 1)
}

func IncrementQuote(size int) {
	atomic.AddInt64(&quoteUpdates, 1)
	recordChannel("quote_feed", size)
}

func ConnectionOpened() {
	atomic.AddInt64(&activeConnections, 1)
}

func ConnectionClosed() {
	atomic.AddInt64(&activeConnections, -1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_server":      atomic.LoadInt64(&errorsServer),
		"errors_watcher":     atomic.LoadInt64(&errorsWatcher),
		"warns_server":       atomic.LoadInt64(&warnsServer),
		"warns_watcher":      atomic.LoadInt64(&warnsWatcher),
		"requests_handled":   atomic.LoadInt64(&requestsHandled),
		"pushes_sent":        atomic.LoadInt64(&pushesSent),
		"triggers_fired":     atomic.LoadInt64(&triggersFired),
		"quote_updates":      atomic.LoadInt64(&quoteUpdates),
		"active_connections": atomic.LoadInt64(&activeConnections),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-ErrorsServer"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_server"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-ErrorsWatcher"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_watcher"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-WarnsServer"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_server"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-WarnsWatcher"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_watcher"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-Requests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["requests_handled"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-Pushes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["pushes_sent"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-Triggers"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["triggers_fired"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-QuoteUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quote_updates"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-ActiveConnections"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["active_connections"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Sentinel-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Sentinel-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Sentinel-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
