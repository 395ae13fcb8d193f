package desfire

// PiccInfo is the decoded summary of a PICC's global state, grounded on
// the original source's DesfireFillPICCInfo.
type PiccInfo struct {
	FreeMem      uint32
	KeySettings  byte
	NumKeysRaw   byte
	NumberOfKeys byte
	KeyVersion0  byte
}

// FillPiccInfo queries GetFreeMem/GetKeySettings/GetKeyVersion against
// the currently selected application (the PICC master application, if
// none has been selected) and assembles a PiccInfo. Errors from
// individual queries are tolerated the way the original does: a failed
// sub-query just leaves its fields at zero.
func (ctx *DesfireContext) FillPiccInfo() (PiccInfo, error) {
	var info PiccInfo

	if mem, err := ctx.GetFreeMem(); err == nil {
		info.FreeMem = mem
	}

	settings, numRaw, err := ctx.GetKeySettings()
	if err != nil {
		return info, nil
	}
	info.KeySettings = settings
	info.NumKeysRaw = numRaw
	info.NumberOfKeys = numRaw & 0x1F

	if info.NumberOfKeys > 0 {
		if v, err := ctx.GetKeyVersion(0); err == nil {
			info.KeyVersion0 = v
		}
	}
	return info, nil
}

// AppInfo is the decoded per-application record assembled by
// FillAppList, grounded on the original source's AppListS/
// DesfireFillAppList.
type AppInfo struct {
	AppNum          uint32
	AppISONum       uint16
	AppDFName       string
	KeySettings     byte
	NumKeysRaw      byte
	NumberOfKeys    byte
	ISOFileIDEnable bool
	KeyType         KeyType
}

// DesfireKeyTypeToAlgo maps the top two bits of an application's
// key-count byte — the same position ChangeKey's master-key algorithm
// tag occupies, reused here to report an application's configured key
// algorithm — to a KeyType.
func DesfireKeyTypeToAlgo(tag byte) KeyType {
	switch tag & 0x03 {
	case 0:
		return KeyDES
	case 1:
		return Key2TDEA
	case 2:
		return Key3TDEA
	default:
		return KeyAES
	}
}

// FillAppList enumerates every application on the card via GetAIDList,
// cross-references GetDFList for ISO names, and reports each
// application's key settings. It does not select files within each
// application; callers that need that call GetFileIDList themselves
// after selecting an AID.
func (ctx *DesfireContext) FillAppList() ([]AppInfo, error) {
	aids, err := ctx.GetAIDList()
	if err != nil {
		return nil, err
	}
	apps := make([]AppInfo, len(aids))
	for i, aid := range aids {
		apps[i].AppNum = aid
	}

	dfRecords, err := ctx.GetDFList()
	if err == nil {
		for _, rec := range dfRecords {
			if len(rec) != 24 {
				continue
			}
			aid := decodeLE3(rec[1:4])
			for i := range apps {
				if apps[i].AppNum != aid {
					continue
				}
				apps[i].AppISONum = uint16(rec[4])<<8 | uint16(rec[5])
				apps[i].AppDFName = nullTerminatedString(rec[6:])
			}
		}
	}

	for i := range apps {
		if err := ctx.SelectApplication(apps[i].AppNum); err != nil {
			continue
		}
		settings, numRaw, err := ctx.GetKeySettings()
		if err != nil {
			continue
		}
		apps[i].KeySettings = settings
		apps[i].NumKeysRaw = numRaw
		apps[i].NumberOfKeys = numRaw & 0x1F
		apps[i].ISOFileIDEnable = numRaw&0x20 != 0
		apps[i].KeyType = DesfireKeyTypeToAlgo(numRaw >> 6)
	}
	return apps, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// FileSettings is the decoded form of GetFileSettings' response, unified
// across all five file types, grounded on the original source's
// FileSettingsS/DesfireFillFileSettings.
type FileSettings struct {
	FileType     FileType
	CommMode     CommMode
	AccessRights AccessRights
	RawAccess    uint16

	// std/backup data files
	FileSize uint32

	// value files
	LowerLimit    uint32
	UpperLimit    uint32
	Value         uint32
	LimitedCredit byte

	// linear/cyclic record files
	RecordSize      uint32
	MaxRecordCount  uint32
	CurRecordCount  uint32
}

func commModeFromSettingsByte(b byte) CommMode {
	switch b & 0x03 {
	case 0x01:
		return CommMAC
	case 0x03:
		return CommEncrypted
	default:
		return CommPlain
	}
}

// DecodeFileSettings decodes a GetFileSettings response. File type and
// comm-mode byte are always present; the tail's shape depends on the
// file type byte itself.
func DecodeFileSettings(data []byte) (FileSettings, error) {
	var fs FileSettings
	if len(data) < 4 {
		return fs, newErr(ErrInvalidArgument, "file settings response too short")
	}

	fileTypeByte := data[0]
	fs.CommMode = commModeFromSettingsByte(data[1])
	fs.RawAccess = uint16(data[2]) | uint16(data[3])<<8
	fs.AccessRights = DecodeAccessRights(fs.RawAccess)

	switch fileTypeByte {
	case 0x00:
		fs.FileType = FileStdData
		if len(data) < 7 {
			return fs, newErr(ErrInvalidArgument, "std data file settings too short")
		}
		fs.FileSize = decodeLE3(data[4:7])
	case 0x01:
		fs.FileType = FileBackupData
		if len(data) < 7 {
			return fs, newErr(ErrInvalidArgument, "backup data file settings too short")
		}
		fs.FileSize = decodeLE3(data[4:7])
	case 0x02:
		fs.FileType = FileValue
		if len(data) < 17 {
			return fs, newErr(ErrInvalidArgument, "value file settings too short")
		}
		fs.LowerLimit = decodeLE4(data[4:8])
		fs.UpperLimit = decodeLE4(data[8:12])
		fs.Value = decodeLE4(data[12:16])
		fs.LimitedCredit = data[16]
	case 0x03:
		fs.FileType = FileLinearRecord
		if len(data) < 13 {
			return fs, newErr(ErrInvalidArgument, "linear record file settings too short")
		}
		fs.RecordSize = decodeLE3(data[4:7])
		fs.MaxRecordCount = decodeLE3(data[7:10])
		fs.CurRecordCount = decodeLE3(data[10:13])
	case 0x04:
		fs.FileType = FileCyclicRecord
		if len(data) < 13 {
			return fs, newErr(ErrInvalidArgument, "cyclic record file settings too short")
		}
		fs.RecordSize = decodeLE3(data[4:7])
		fs.MaxRecordCount = decodeLE3(data[7:10])
		fs.CurRecordCount = decodeLE3(data[10:13])
	default:
		return fs, newErr(ErrInvalidArgument, "unknown file type byte")
	}
	return fs, nil
}

// ISOSelectMode chooses which form of ISO SELECT to send.
type ISOSelectMode int

const (
	ISOSelectMFOrDF ISOSelectMode = iota
	ISOSelectByAID
	ISOSelectByFileID
	ISOSelectByDFName
)

// ISOSelect sends an ISO 7816 SELECT command, available only under
// CommandSetISO. When the card reports success it clears the session,
// since selecting a different application invalidates any secure
// channel; unlike SelectApplication, a failed select leaves the session
// in place.
func (ctx *DesfireContext) ISOSelect(mode ISOSelectMode, data []byte) ([]byte, error) {
	if ctx.CommandSet != CommandSetISO {
		return nil, newErr(ErrNotImplemented, "ISOSelect requires CommandSet == CommandSetISO")
	}
	var p1, p2 byte
	switch mode {
	case ISOSelectMFOrDF:
		p1, p2 = 0x00, 0x0C
	case ISOSelectByAID:
		p1, p2 = 0x04, 0x0C
	case ISOSelectByFileID:
		p1, p2 = 0x02, 0x0C
	case ISOSelectByDFName:
		p1, p2 = 0x04, 0x0C
	default:
		return nil, newErr(ErrInvalidArgument, "unknown ISOSelect mode")
	}
	apdu := isoAPDU(0x00, 0xA4, p1, p2, data, true)
	resp, sw, err := ctx.Transport.ExchangeAPDU(apdu, false)
	if err != nil {
		return nil, wrapErr(ErrTransport, "ISOSelect exchange failed", err)
	}
	if decodeISO(sw) != StatusOperationOK {
		return nil, apduFail("ISOSelect failed", decodeISO(sw))
	}
	ctx.DesfireClearSession()
	return resp, nil
}
