package at

const (
	// Terminal Control
	CR = "\r"
	LF = "\n"

	// Prefix starts every command line sent to the modem.
	Prefix = "AT"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Spontaneous notifications. The modem emits these at any point in
	// the stream, including between a command echo and its reply.
	UrcBoot    = "^BOOT:" // ^BOOT:35731065,0,0,0,72
	UrcRing    = "RING"
	UrcCallEnd = "END:" // END:1,0,104,16

	// Message notifications handled by the dispatch loop.
	UrcNewMsg        = "+CMTI:" // +CMTI: "SM",3
	UrcMessageReport = "+CDSI:" // +CDSI: SM,3

	// ReadReply prefixes the header line answering CmdReadMessage.
	ReadReply = "+CMGR:"
)

// Command bodies. They are sent with Prefix prepended and a trailing CR.
const (
	CmdReset                 = "Z"
	CmdNewMessageIndications = "+CNMI=%d,%d,%d,%d,%d"
	CmdReadMessage           = "+CMGR=%d"
	CmdDeleteMessage         = "+CMGD=%d"
)

// StorageSIM is the SIM message store, the only area the modem is
// configured to report into by default.
const StorageSIM = "SM"
