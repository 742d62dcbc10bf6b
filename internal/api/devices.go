package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nettap/nettapd/internal/enrich"
	svcerr "github.com/nettap/nettapd/internal/errors"
	"github.com/nettap/nettapd/internal/risk"
	"github.com/nettap/nettapd/internal/search"
	"github.com/nettap/nettapd/internal/store"
)

// Device is one observed endpoint with its telemetry-derived identity.
type Device struct {
	IP           string `json:"ip"`
	MAC          string `json:"mac,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	OSHint       string `json:"os_hint,omitempty"`
	Label        string `json:"label,omitempty"`
	Known        bool   `json:"known"`
	Trusted      bool   `json:"trusted"`
	Connections  int64  `json:"connections"`
	BytesSent    int64  `json:"bytes_sent"`
	BytesRecv    int64  `json:"bytes_received"`
}

// handleDevices lists devices seen as connection originators in the
// window, most active first.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)
	limit := limitParam(r, 100, 500)

	body := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{"devices": search.TermsAgg("id.orig_h", limit, search.M{
			"bytes_out": search.SumAgg("orig_bytes"),
			"bytes_in":  search.SumAgg("resp_bytes"),
		})},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	buckets := result.Buckets("devices")
	devices := make([]Device, 0, len(buckets))
	for _, bucket := range buckets {
		device := Device{
			IP:          bucket.KeyString(),
			Connections: bucket.DocCount,
			BytesSent:   int64(bucket.SumValue("bytes_out")),
			BytesRecv:   int64(bucket.SumValue("bytes_in")),
		}
		s.identifyDevice(r, &device, tr, false)
		devices = append(devices, device)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

// handleDevice returns full identity and activity detail for one IP.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	tr := timeRange(r)

	body := search.Body{
		Query: deviceQuery(ip, tr),
		Aggs: search.M{
			"bytes_out": search.SumAgg("orig_bytes"),
			"bytes_in":  search.SumAgg("resp_bytes"),
			"ports":     search.TermsAgg("id.resp_p", 25, nil),
			"peers":     search.CardinalityAgg("id.resp_h"),
		},
		Size: search.IntPtr(0),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Total == 0 {
		writeError(w, svcerr.NotFound("devices.get", fmt.Errorf("no traffic observed for %s", ip)))
		return
	}

	device := Device{
		IP:          ip,
		Connections: int64(result.Total),
		BytesSent:   int64(result.MetricValue("bytes_out")),
		BytesRecv:   int64(result.MetricValue("bytes_in")),
	}
	s.identifyDevice(r, &device, tr, true)

	ports := make([]map[string]any, 0)
	for _, bucket := range result.Buckets("ports") {
		ports = append(ports, map[string]any{
			"port":        bucket.KeyString(),
			"connections": bucket.DocCount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":       device,
		"top_ports":    ports,
		"unique_peers": int64(result.MetricValue("peers")),
	})
}

// handleDeviceConnections pages through raw connection records where
// the device appears on either side.
func (s *Server) handleDeviceConnections(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	tr := timeRange(r)
	page, size := pagination(r)

	body := search.Body{
		Query: deviceQuery(ip, tr),
		Size:  search.IntPtr(size),
		From:  search.IntPtr((page - 1) * size),
		Sort:  search.SortByTimeDesc(),
	}.Build()

	result, err := s.Search.Search(r.Context(), connIndex, body)
	if err != nil {
		writeError(w, err)
		return
	}

	connections := make([]map[string]any, 0, len(result.Hits))
	for _, hit := range result.Hits {
		connections = append(connections, hit.Source)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": connections,
		"total":       result.Total,
		"page":        page,
		"size":        size,
	})
}

func (s *Server) handleBaselineList(w http.ResponseWriter, r *http.Request) {
	all := s.Baseline.All()
	devices := make([]any, 0, len(all))
	macs := make([]string, 0, len(all))
	for mac := range all {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	for _, mac := range macs {
		devices = append(devices, all[mac])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

func (s *Server) handleBaselineAdd(w http.ResponseWriter, r *http.Request) {
	var device struct {
		MAC      string `json:"mac"`
		Hostname string `json:"hostname"`
		Label    string `json:"label"`
		Trusted  bool   `json:"trusted"`
	}
	if err := decodeBody(r, &device); err != nil {
		writeError(w, err)
		return
	}
	if enrich.NormalizeMAC(device.MAC) == "" {
		writeError(w, svcerr.Validation("baseline.add", fmt.Errorf("mac is required")))
		return
	}

	entry := store.BaselineDevice{
		MAC:          device.MAC,
		Hostname:     device.Hostname,
		Manufacturer: s.OUI.Lookup(device.MAC),
		Label:        device.Label,
		Trusted:      device.Trusted,
	}
	if err := s.Baseline.Add(entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"result": "added",
		"mac":    entry.MAC,
	})
}

func (s *Server) handleBaselineRemove(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	removed, err := s.Baseline.Remove(mac)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, svcerr.NotFound("baseline.remove", fmt.Errorf("%s not in baseline", mac)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": "removed",
		"mac":    mac,
	})
}

// handleRiskScores scores the most active devices in the window.
func (s *Server) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	tr := timeRange(r)
	limit := limitParam(r, 50, 500)

	scores, err := s.scoreDevices(r, tr, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": scores,
		"total":  len(scores),
	})
}

func (s *Server) handleRiskScore(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	tr := timeRange(r)

	scores, err := s.scoreDevices(r, tr, 500)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, score := range scores {
		if score.IP == ip {
			writeJSON(w, http.StatusOK, score)
			return
		}
	}
	writeError(w, svcerr.NotFound("risk.get", fmt.Errorf("no traffic observed for %s", ip)))
}

// DeviceScore couples a risk assessment with the device it describes.
type DeviceScore struct {
	IP string `json:"ip"`
	risk.Score
}

// scoreDevices computes risk scores for the top limit originators.
// The connection baseline (mean and stddev) is derived from the same
// aggregation, so a device is always judged against its peers in the
// same window.
func (s *Server) scoreDevices(r *http.Request, tr search.TimeRange, limit int) ([]DeviceScore, error) {
	ctx := r.Context()

	connBody := search.Body{
		Query: search.BoolQuery{Filter: []search.M{search.TimeRangeFilter(tr)}}.Build(),
		Aggs: search.M{"devices": search.TermsAgg("id.orig_h", limit, search.M{
			"bytes_out": search.SumAgg("orig_bytes"),
			"bytes_in":  search.SumAgg("resp_bytes"),
			"ports":     search.TermsAgg("id.resp_p", 50, nil),
			"external":  search.M{"filter": search.Term("local_resp", false)},
		})},
		Size: search.IntPtr(0),
	}.Build()

	connResult, err := s.Search.Search(ctx, connIndex, connBody)
	if err != nil {
		return nil, err
	}
	buckets := connResult.Buckets("devices")
	if len(buckets) == 0 {
		return []DeviceScore{}, nil
	}

	// Alert attribution is a second aggregation over the IDS stream;
	// a failure there degrades to zero alert counts.
	alertCounts := map[string]int64{}
	alertBody := search.Body{
		Query: search.BoolQuery{Filter: []search.M{
			search.TimeRangeFilter(tr),
			search.Exists("alert"),
		}}.Build(),
		Aggs: search.M{"sources": search.TermsAgg("src_ip", limit, nil)},
		Size: search.IntPtr(0),
	}.Build()
	if alertResult, err := s.Search.Search(ctx, alertIndex, alertBody); err == nil {
		for _, bucket := range alertResult.Buckets("sources") {
			alertCounts[bucket.KeyString()] = bucket.DocCount
		}
	}

	mean, stddev := connectionBaseline(buckets)

	scores := make([]DeviceScore, 0, len(buckets))
	for _, bucket := range buckets {
		ip := bucket.KeyString()
		stats := risk.DeviceStats{
			AlertCount:               int(alertCounts[ip]),
			ConnectionCount:          int(bucket.DocCount),
			NetworkAvgConnections:    mean,
			NetworkStddevConnections: stddev,
			ExternalConnectionCount:  int(subDocCount(bucket, "external")),
			TotalConnectionCount:     int(bucket.DocCount),
			PortsUsed:                bucketPorts(bucket),
			OrigBytes:                int64(bucket.SumValue("bytes_out")),
			RespBytes:                int64(bucket.SumValue("bytes_in")),
		}
		scores = append(scores, DeviceScore{IP: ip, Score: risk.ScoreDevice(stats)})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score.Score > scores[j].Score.Score
	})
	return scores, nil
}

// identifyDevice fills in MAC, hostname, manufacturer, and baseline
// state. The OS hint costs extra queries and is detail-view only.
func (s *Server) identifyDevice(r *http.Request, device *Device, tr search.TimeRange, detail bool) {
	ctx := r.Context()
	if mac, ok := s.Fingerprint.MAC(ctx, device.IP, tr); ok {
		device.MAC = mac
		device.Manufacturer = s.OUI.Lookup(mac)
		if known, ok := s.Baseline.Get(mac); ok {
			device.Known = true
			device.Trusted = known.Trusted
			device.Label = known.Label
		}
	}
	if hostname, ok := s.Fingerprint.Hostname(ctx, device.IP, tr); ok {
		device.Hostname = hostname
	}
	if detail {
		if osHint, ok := s.Fingerprint.OSHint(ctx, device.IP, tr); ok {
			device.OSHint = osHint
		}
	}
}

func deviceQuery(ip string, tr search.TimeRange) search.M {
	query := search.BoolQuery{
		Filter: []search.M{search.TimeRangeFilter(tr)},
		Should: []search.M{
			search.Term("id.orig_h", ip),
			search.Term("id.resp_h", ip),
		},
	}.Build()
	query["bool"].(search.M)["minimum_should_match"] = 1
	return query
}

func connectionBaseline(buckets []search.Bucket) (mean, stddev float64) {
	for _, bucket := range buckets {
		mean += float64(bucket.DocCount)
	}
	mean /= float64(len(buckets))

	var variance float64
	for _, bucket := range buckets {
		diff := float64(bucket.DocCount) - mean
		variance += diff * diff
	}
	variance /= float64(len(buckets))
	return mean, math.Sqrt(variance)
}

func bucketPorts(bucket search.Bucket) []int {
	raw, ok := bucket.Sub["ports"]
	if !ok {
		return nil
	}
	var agg struct {
		Buckets []struct {
			Key float64 `json:"key"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil
	}
	ports := make([]int, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		ports = append(ports, int(b.Key))
	}
	return ports
}

// subDocCount reads the doc_count of a filter sub-aggregation.
func subDocCount(bucket search.Bucket, name string) int64 {
	raw, ok := bucket.Sub[name]
	if !ok {
		return 0
	}
	var v struct {
		DocCount int64 `json:"doc_count"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v.DocCount
}
