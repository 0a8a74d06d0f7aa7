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
	errorsSocket       int64
	errorsPoll         int64
	errorsPush         int64
	warnsSocket        int64
	warnsPoll          int64
	warnsPush          int64
	socketReads        int64
	pollReads          int64
	pushReads          int64
	reconnects         int64
	ordersReceived     int64
	duplicatesFiltered int64
	channels           sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "socket") {
		atomic.AddInt64(&warnsSocket, 1)
	} else if strings.Contains(component, "poll") {
		atomic.AddInt64(&warnsPoll, 1)
	} else if strings.Contains(component, "push") {
		atomic.AddInt64(&warnsPush, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "socket") {
		atomic.AddInt64(&errorsSocket, 1)
	} else if strings.Contains(component, "poll") {
		atomic.AddInt64(&errorsPoll, 1)
	} else if strings.Contains(component, "push") {
		atomic.AddInt64(&errorsPush, 1)
	}
}

func IncrementSocketRead(size int) {
	atomic.AddInt64(&socketReads, 1)
	recordChannel("socket_ws", size)
}

func IncrementPollRead(size int) {
	atomic.AddInt64(&pollReads, 1)
	recordChannel("poll_http", size)
}

func IncrementPushRead(size int) {
	atomic.AddInt64(&pushReads, 1)
	recordChannel("push_provider", size)
}

func IncrementReconnectCount() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementOrderReceived() {
	atomic.AddInt64(&ordersReceived, 1)
}

func IncrementDuplicateFiltered() {
	atomic.AddInt64(&duplicatesFiltered, 1)
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
		"errors_socket":       atomic.LoadInt64(&errorsSocket),
		"errors_poll":         atomic.LoadInt64(&errorsPoll),
		"errors_push":         atomic.LoadInt64(&errorsPush),
		"warns_socket":        atomic.LoadInt64(&warnsSocket),
		"warns_poll":          atomic.LoadInt64(&warnsPoll),
		"warns_push":          atomic.LoadInt64(&warnsPush),
		"socket_reads":        atomic.LoadInt64(&socketReads),
		"poll_reads":          atomic.LoadInt64(&pollReads),
		"push_reads":          atomic.LoadInt64(&pushReads),
		"reconnects":          atomic.LoadInt64(&reconnects),
		"orders_received":     atomic.LoadInt64(&ordersReceived),
		"duplicates_filtered": atomic.LoadInt64(&duplicatesFiltered),
		"goroutines":          runtime.NumGoroutine(),
		"cpu_percent":         cpuPct,
		"memory_mb":           int64(memStats.Used) / 1024 / 1024,
		"channels":            channelData,
		"net_bytes_sent":      int64(bytesSent),
		"net_bytes_recv":      int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-ErrorsSocket"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_socket"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-ErrorsPoll"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_poll"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-ErrorsPush"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_push"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-SocketReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["socket_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-PollReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["poll_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-PushReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["push_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-OrdersReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_received"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-DuplicatesFiltered"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["duplicates_filtered"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Driverlink-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Driverlink-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Driverlink-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
