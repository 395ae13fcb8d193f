package desfire

// Native INS bytes for the command surface, supplementing the
// wire-constants table elsewhere in this package with the remainder of
// the DESFire command set (the original source's MFDES_* names).
const (
	insFormatPICC            byte = 0xFC
	insGetUID                byte = 0x51
	insGetApplicationIDs     byte = 0x6A
	insGetDFNames            byte = 0x6D
	insCreateApplication     byte = 0xCA
	insDeleteApplication     byte = 0xDA
	insGetKeySettings        byte = 0x45
	insGetKeyVersion         byte = 0x64
	insChangeKeySettings     byte = 0x54
	insChangeConfiguration   byte = 0x5C
	insCreateStdDataFile     byte = 0xCD
	insCreateBackupDataFile  byte = 0xCB
	insCreateValueFile       byte = 0xCC
	insCreateLinearRecord    byte = 0xC1
	insCreateCyclicRecord    byte = 0xC0
	insDeleteFile            byte = 0xDF
	insGetFileIDs            byte = 0x6F
	insGetISOFileIDs         byte = 0x61
	insGetFileSettings       byte = 0xF5
	insChangeFileSettings    byte = 0x5F
	insReadData              byte = 0xBD
	insWriteData             byte = 0x3D
	insReadRecords           byte = 0xBB
	insWriteRecord           byte = 0x3B
	insUpdateRecord          byte = 0xDB
	insClearRecordFile       byte = 0xEB
	insGetValue              byte = 0x6C
	insCredit                byte = 0x0C
	insLimitedCredit         byte = 0x1C
	insDebit                 byte = 0xDC
	insCommitTransaction     byte = 0xC7
	insAbortTransaction      byte = 0xA7
)

// FileType selects the structure created by CreateFile.
type FileType int

const (
	FileStdData FileType = iota
	FileBackupData
	FileValue
	FileLinearRecord
	FileCyclicRecord
)

// FormatPICC erases all applications and files, restoring factory state.
// Requires PICC master-key authentication.
func (ctx *DesfireContext) FormatPICC() error {
	_, err := ctx.DesfireExchange(insFormatPICC, nil, nil)
	return err
}

// GetFreeMem returns the number of free EEPROM bytes remaining.
func (ctx *DesfireContext) GetFreeMem() (uint32, error) {
	resp, err := ctx.DesfireExchange(insGetFreeMem, nil, nil)
	if err != nil {
		return 0, err
	}
	if len(resp) < 3 {
		return 0, newErr(ErrInvalidArgument, "GetFreeMem response too short")
	}
	return decodeLE3(resp[:3]), nil
}

// GetUID returns the PICC's factory UID (CommEncrypted per the PICC's
// configuration; the caller is responsible for having set CommMode).
func (ctx *DesfireContext) GetUID() ([]byte, error) {
	return ctx.DesfireExchange(insGetUID, nil, nil)
}

// GetAIDList returns every application ID on the card, decoded from the
// flat 3-byte-little-endian stream, which it re-blocks itself after the
// engine has reassembled the response.
func (ctx *DesfireContext) GetAIDList() ([]uint32, error) {
	resp, err := ctx.DesfireExchange(insGetApplicationIDs, nil, nil)
	if err != nil {
		return nil, err
	}
	blocks := SplitBlocks(resp, 3)
	out := make([]uint32, 0, len(blocks))
	for _, b := range blocks {
		if len(b) != 3 {
			return nil, newErr(ErrInvalidArgument, "trailing partial AID in GetAIDList response")
		}
		out = append(out, decodeLE3(b))
	}
	return out, nil
}

// GetDFList returns DF names, each a fixed 24-byte record.
func (ctx *DesfireContext) GetDFList() ([][]byte, error) {
	resp, err := ctx.DesfireExchange(insGetDFNames, nil, nil)
	if err != nil {
		return nil, err
	}
	return SplitBlocks(resp, 24), nil
}

// CreateApplication creates a new application with the given AID, key
// settings byte, and key-count/type byte.
func (ctx *DesfireContext) CreateApplication(aid uint32, keySettings byte, numKeysAndType byte) error {
	aidB := encodeLE3(aid)
	body := []byte{aidB[0], aidB[1], aidB[2], keySettings, numKeysAndType}
	_, err := ctx.DesfireExchange(insCreateApplication, nil, body)
	return err
}

// DeleteApplication deletes the application with the given AID. Clears
// the session after any successful delete, whichever application was
// deleted; a failed delete leaves the session in place.
func (ctx *DesfireContext) DeleteApplication(aid uint32) error {
	aidB := encodeLE3(aid)
	_, err := ctx.DesfireExchange(insDeleteApplication, nil, aidB[:])
	if err == nil {
		ctx.DesfireClearSession()
	}
	return err
}

// SelectApplication selects an application by AID (or 0 for the PICC
// master application) and clears the session.
func (ctx *DesfireContext) SelectApplication(aid uint32) error {
	aidB := encodeLE3(aid)
	_, err := ctx.DesfireExchange(insSelectApp, nil, aidB[:])
	ctx.DesfireClearSession()
	ctx.appSelected = aid != 0 && err == nil
	return err
}

// GetKeySettings returns the application's key-settings byte and the
// key-count/type byte.
func (ctx *DesfireContext) GetKeySettings() (keySettings, numKeysAndType byte, err error) {
	resp, err := ctx.DesfireExchange(insGetKeySettings, nil, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 2 {
		return 0, 0, newErr(ErrInvalidArgument, "GetKeySettings response too short")
	}
	return resp[0], resp[1], nil
}

// GetKeyVersion returns the version byte of the given key slot.
func (ctx *DesfireContext) GetKeyVersion(keyNum byte) (byte, error) {
	resp, err := ctx.DesfireExchange(insGetKeyVersion, nil, []byte{keyNum})
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, newErr(ErrInvalidArgument, "GetKeyVersion response too short")
	}
	return resp[0], nil
}

// ChangeKeySettings replaces the application's key-settings byte. Must be
// sent CommEncrypted; set ctx.CommMode = CommEncrypted before calling.
func (ctx *DesfireContext) ChangeKeySettings(newSettings byte) error {
	_, err := ctx.DesfireExchange(insChangeKeySettings, nil, []byte{newSettings})
	return err
}

// SetConfiguration applies a PICC configuration option; option 0
// changes the format/random-UID behaviour, option 1 sets the ATS bytes,
// option 2 the secure-messaging default. Payload is caller-built per the
// option since its shape differs per option number.
func (ctx *DesfireContext) SetConfiguration(option byte, data []byte) error {
	_, err := ctx.DesfireExchange(insChangeConfiguration, nil, concat([]byte{option}, data))
	return err
}

// CreateFileParams describes a CreateFile invocation across all five file
// types; fields that don't apply to the chosen Type are ignored.
type CreateFileParams struct {
	FileNum      byte
	Type         FileType
	ISOFileID    uint16 // 0 = none
	CommMode     CommMode
	AccessRights AccessRights
	FileSize     uint32 // std/backup data files: size in bytes
	LowerLimit   uint32 // value files
	UpperLimit   uint32 // value files
	Value        uint32 // value files: initial value
	LimitedCredit bool  // value files: enable limited-credit
	RecordSize   uint32 // record files: bytes per record
	MaxRecords   uint32 // record files: record capacity
}

func commSettingsByte(mode CommMode) byte {
	switch mode {
	case CommMAC:
		return 0x01
	case CommEncrypted:
		return 0x03
	default:
		return 0x00
	}
}

// CreateFile dispatches to the right native command for p.Type and builds
// its fixed-offset payload: file number, optional ISO file ID,
// comm-mode settings byte, access-rights word, then the type-specific
// tail.
func (ctx *DesfireContext) CreateFile(p CreateFileParams) error {
	head := []byte{p.FileNum}
	if p.ISOFileID != 0 {
		head = append(head, encodeISOFileID(p.ISOFileID)...)
	}
	ar := EncodeAccessRights(p.AccessRights)
	head = append(head, commSettingsByte(p.CommMode), byte(ar), byte(ar>>8))

	var ins byte
	var tail []byte
	switch p.Type {
	case FileStdData:
		ins = insCreateStdDataFile
		tail = encodeLE3(p.FileSize)
	case FileBackupData:
		ins = insCreateBackupDataFile
		tail = encodeLE3(p.FileSize)
	case FileValue:
		ins = insCreateValueFile
		tail = concat(encodeLE4(p.LowerLimit), encodeLE4(p.UpperLimit))
		tail = append(tail, encodeLE4(p.Value)...)
		limited := byte(0x00)
		if p.LimitedCredit {
			limited = 0x01
		}
		tail = append(tail, limited)
	case FileLinearRecord:
		ins = insCreateLinearRecord
		tail = concat(encodeLE3(p.RecordSize), encodeLE3(p.MaxRecords))
	case FileCyclicRecord:
		ins = insCreateCyclicRecord
		tail = concat(encodeLE3(p.RecordSize), encodeLE3(p.MaxRecords))
	default:
		return newErr(ErrInvalidArgument, "unknown file type")
	}

	_, err := ctx.DesfireExchange(ins, nil, concat(head, tail))
	return err
}

// DeleteFile deletes the given file number from the selected application.
func (ctx *DesfireContext) DeleteFile(fileNum byte) error {
	_, err := ctx.DesfireExchange(insDeleteFile, nil, []byte{fileNum})
	return err
}

// GetFileIDList returns the file numbers present in the selected
// application.
func (ctx *DesfireContext) GetFileIDList() ([]byte, error) {
	return ctx.DesfireExchange(insGetFileIDs, nil, nil)
}

// GetFileISOIDList returns the ISO file IDs present in the selected
// application, each 2 bytes big-endian.
func (ctx *DesfireContext) GetFileISOIDList() ([][]byte, error) {
	resp, err := ctx.DesfireExchange(insGetISOFileIDs, nil, nil)
	if err != nil {
		return nil, err
	}
	return SplitBlocks(resp, 2), nil
}

// GetFileSettings returns the raw file-settings record; callers decode it
// with DecodeFileSettings (piccinfo.go) since its tail shape depends on
// the file's type, which is its own first byte.
func (ctx *DesfireContext) GetFileSettings(fileNum byte) ([]byte, error) {
	return ctx.DesfireExchange(insGetFileSettings, nil, []byte{fileNum})
}

// ChangeFileSettings replaces a file's comm-mode and access-rights word.
// Must be sent under the file's current comm-mode (Plain if it carries no
// protection, Encrypted otherwise); set ctx.CommMode accordingly first.
func (ctx *DesfireContext) ChangeFileSettings(fileNum byte, mode CommMode, ar AccessRights) error {
	word := EncodeAccessRights(ar)
	body := []byte{commSettingsByte(mode), byte(word), byte(word >> 8)}
	_, err := ctx.DesfireExchange(insChangeFileSettings, []byte{fileNum}, body)
	return err
}

// ReadData reads length bytes from a standard/backup data file starting
// at offset, both 3-byte LE.
func (ctx *DesfireContext) ReadData(fileNum byte, offset, length uint32) ([]byte, error) {
	header := []byte{fileNum}
	body := concat(encodeLE3(offset), encodeLE3(length))
	return ctx.DesfireExchange(insReadData, header, body)
}

// WriteData writes data to a standard/backup data file starting at
// offset (3-byte LE, same as ReadData).
func (ctx *DesfireContext) WriteData(fileNum byte, offset uint32, data []byte) error {
	header := concat([]byte{fileNum}, encodeLE3(offset))
	header = append(header, encodeLE3(uint32(len(data)))...)
	_, err := ctx.DesfireExchange(insWriteData, header, data)
	return err
}

// ReadRecords reads recordCount records, each the file's record size,
// starting at recordOffset records back from the newest (0 = most
// recent), from a linear/cyclic record file.
func (ctx *DesfireContext) ReadRecords(fileNum byte, recordOffset, recordCount uint32) ([]byte, error) {
	header := []byte{fileNum}
	body := concat(encodeLE3(recordOffset), encodeLE3(recordCount))
	return ctx.DesfireExchange(insReadRecords, header, body)
}

// WriteRecord appends data to the active record of a linear/cyclic
// record file, at the given byte offset within the record (3-byte LE).
func (ctx *DesfireContext) WriteRecord(fileNum byte, offset uint32, data []byte) error {
	header := concat([]byte{fileNum}, encodeLE3(offset))
	header = append(header, encodeLE3(uint32(len(data)))...)
	_, err := ctx.DesfireExchange(insWriteRecord, header, data)
	return err
}

// UpdateRecord overwrites an existing record by index.
func (ctx *DesfireContext) UpdateRecord(fileNum byte, recordNum, offset uint32, data []byte) error {
	header := concat([]byte{fileNum}, encodeLE3(recordNum))
	header = append(header, encodeLE3(offset)...)
	header = append(header, encodeLE3(uint32(len(data)))...)
	_, err := ctx.DesfireExchange(insUpdateRecord, header, data)
	return err
}

// ClearRecordFile discards all records in a linear/cyclic record file.
func (ctx *DesfireContext) ClearRecordFile(fileNum byte) error {
	_, err := ctx.DesfireExchange(insClearRecordFile, nil, []byte{fileNum})
	return err
}

// GetValue returns the current balance of a value file.
func (ctx *DesfireContext) GetValue(fileNum byte) (uint32, error) {
	resp, err := ctx.DesfireExchange(insGetValue, nil, []byte{fileNum})
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, newErr(ErrInvalidArgument, "GetValue response too short")
	}
	return decodeLE4(resp[:4]), nil
}

// Credit increases a value file's balance by amount (4-byte LE).
func (ctx *DesfireContext) Credit(fileNum byte, amount uint32) error {
	_, err := ctx.DesfireExchange(insCredit, []byte{fileNum}, encodeLE4(amount))
	return err
}

// LimitedCredit increases a value file's balance without requiring the
// file's full write-access key, bounded by the file's configured limit.
func (ctx *DesfireContext) LimitedCredit(fileNum byte, amount uint32) error {
	_, err := ctx.DesfireExchange(insLimitedCredit, []byte{fileNum}, encodeLE4(amount))
	return err
}

// Debit decreases a value file's balance by amount (4-byte LE).
func (ctx *DesfireContext) Debit(fileNum byte, amount uint32) error {
	_, err := ctx.DesfireExchange(insDebit, []byte{fileNum}, encodeLE4(amount))
	return err
}

// CommitTransaction commits all uncommitted value/record-file writes
// made within the current application selection.
func (ctx *DesfireContext) CommitTransaction() error {
	_, err := ctx.DesfireExchange(insCommitTransaction, nil, nil)
	return err
}

// AbortTransaction discards all uncommitted value/record-file writes
// made within the current application selection.
func (ctx *DesfireContext) AbortTransaction() error {
	_, err := ctx.DesfireExchange(insAbortTransaction, nil, nil)
	return err
}
