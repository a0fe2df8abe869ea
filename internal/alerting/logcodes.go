package alerting

import "strings"

// severity per network-server log level
var logLevels = map[string]Severity{
	"INFO":    SeverityLow,
	"WARNING": SeverityHigh,
	"ERROR":   SeverityCritical,
}

// issue per network-server log code
var logCodes = map[string]Issue{
	"DOWNLINK_PAYLOAD_SIZE":       IssuePayloadSize,
	"UPLINK_CODEC":                IssueUplinkCodec,
	"DOWNLINK_CODEC":              IssueDownlinkCodec,
	"OTAA":                        IssueOTAA,
	"UPLINK_F_CNT_RESET":          IssueUplinkFCntReset,
	"UPLINK_MIC":                  IssueUplinkMIC,
	"UPLINK_F_CNT_RETRANSMISSION": IssueRetransmission,
	"DOWNLINK_GATEWAY":            IssueDownlinkGateway,
	"RELAY_NEW_END_DEVICE":        IssueRelayNewEndDevice,
	"F_CNT_DOWN":                  IssueFCntDown,
	"EXPIRED":                     IssueExpired,
}

var logDescriptions = map[string]string{
	"DOWNLINK_PAYLOAD_SIZE":       "Downlink payload exceeds the maximum size for the current data rate",
	"UPLINK_CODEC":                "Uplink payload could not be decoded by the device profile codec",
	"DOWNLINK_CODEC":              "Downlink payload could not be encoded by the device profile codec",
	"OTAA":                        "Join request could not be processed",
	"UPLINK_F_CNT_RESET":          "Uplink frame counter was reset by the device",
	"UPLINK_MIC":                  "Uplink message integrity check failed",
	"UPLINK_F_CNT_RETRANSMISSION": "Uplink was a retransmission of an already received frame",
	"DOWNLINK_GATEWAY":            "Gateway rejected the downlink transmission",
	"RELAY_NEW_END_DEVICE":        "Relay reported a new end device",
	"F_CNT_DOWN":                  "Downlink frame counter is invalid",
	"EXPIRED":                     "Downlink expired before it could be sent",
}

const noDescription = "No description provided"

// classifyLog maps a log level and code to the alert severity and issue.
// Unknown codes are always low severity.
func classifyLog(level, code string) (Severity, Issue) {
	issue, ok := logCodes[strings.ToUpper(code)]
	if !ok {
		return SeverityLow, IssueUnidentifiedLog
	}
	sev, ok := logLevels[strings.ToUpper(level)]
	if !ok {
		sev = SeverityLow
	}
	return sev, issue
}

// describeLog turns a description code into a sentence. Free text is passed
// through unchanged.
func describeLog(description string) string {
	if sentence, ok := logDescriptions[strings.ToUpper(description)]; ok {
		return sentence
	}
	if isUnknown(description) {
		return noDescription
	}
	return description
}
