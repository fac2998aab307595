package labels

import (
	"github.com/prometheus/common/model"
)

// AlertNameLabel is added to every alert's identity set so that two alerts
// with different names never share a fingerprint.
const AlertNameLabel = model.AlertNameLabel

// Fingerprint returns a stable hash of labels. Keys are sorted before
// hashing; identical sets always produce the same value.
func Fingerprint(labels map[string]string) string {
	ls := make(model.LabelSet, len(labels))
	for k, v := range labels {
		ls[model.LabelName(k)] = model.LabelValue(v)
	}
	return ls.Fingerprint().String()
}

// Identity returns a copy of labels with alertname set to name when the
// caller did not provide one.
func Identity(name string, labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	if _, ok := out[AlertNameLabel]; !ok && name != "" {
		out[AlertNameLabel] = name
	}
	return out
}
