package printer

// Settings read by PrinterInfo and PrinterStatus.
var (
	infoKeys   = []string{"device.product_name", "device.unique_id", "appl.name", identityKey}
	statusKeys = []string{"head.paper_out", "device.pause", "head.open", "head.temperature"}
)

// Info identifies a printer model and firmware.
type Info struct {
	Model    string
	Serial   string
	Firmware string
	Language string
}

// Status is a snapshot of printer conditions.
type Status struct {
	PaperOut    bool
	Paused      bool
	HeadOpen    bool
	Temperature string
}

func infoFrom(values []string) Info {
	return Info{Model: values[0], Serial: values[1], Firmware: values[2], Language: values[3]}
}

func statusFrom(values []string) Status {
	return Status{
		PaperOut:    values[0] == "1",
		Paused:      values[1] == "1",
		HeadOpen:    values[2] == "1",
		Temperature: values[3],
	}
}
