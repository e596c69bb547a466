// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"github.com/ardnew/softusb/device/class/msc"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
)

// p65, 3. Direct Access Block commands (SPC-5 and SBC-4), SCSI Commands Reference Manual, Rev. J
const (
	TEST_UNIT_READY              = msc.SCSITestUnitReady
	REQUEST_SENSE                = msc.SCSIRequestSense
	INQUIRY                      = msc.SCSIInquiry
	MODE_SENSE_6                 = msc.SCSIModeSense6
	START_STOP_UNIT              = msc.SCSIStartStopUnit
	PREVENT_ALLOW_MEDIUM_REMOVAL = msc.SCSIPreventAllowRemoval
	READ_FORMAT_CAPACITIES       = msc.SCSIReadFormatCapacities
	READ_CAPACITY_10             = msc.SCSIReadCapacity10
	READ_10                      = msc.SCSIRead10
	WRITE_10                     = msc.SCSIWrite10
	VERIFY_10                    = msc.SCSIVerify10
	SYNCHRONIZE_CACHE_10         = msc.SCSISynchronizeCache10
	MODE_SENSE_10                = msc.SCSIModeSense10
)

const (
	// p376, Table 359 Mode page codes and subpage codes, SCSI Commands Reference Manual, Rev. J
	PAGE_CODE_CACHING = msc.ModePageCachingParameters
	PAGE_CODE_ALL     = msc.ModePageAllPages

	// write protect bit of the mode parameter header
	MODE_PARAMETER_WP = 0x80

	// p54, Table 28 Sense data response codes and ASC/ASCQ assignments
	ASC_WRITE_FAULT             = 0x03
	ASC_UNRECOVERED_READ_ERROR  = 0x11
	REQUEST_SENSE_LENGTH        = 18
	FORMAT_CAPACITY_FORMATTED   = 0x02
	FORMAT_CAPACITY_NO_MEDIA    = 0x03
	FORMAT_CAPACITY_LIST_LENGTH = 8
)

// senseOf maps block device errors to sense data.
func senseOf(err error) senseData {
	switch {
	case errors.Is(err, blockdev.InvalidAddress):
		return senseData{msc.SenseIllegalRequest, msc.ASCLBAOutOfRange, 0}
	case errors.Is(err, blockdev.WriteError):
		return senseData{msc.SenseMediumError, ASC_WRITE_FAULT, 0}
	case errors.Is(err, blockdev.HardwareError):
		return senseData{msc.SenseHardwareError, ASC_UNRECOVERED_READ_ERROR, 0}
	case errors.Is(err, errWriteProtected):
		return senseData{msc.SenseDataProtect, msc.ASCWriteProtected, 0}
	case errors.Is(err, errNotReady):
		return senseData{msc.SenseNotReady, msc.ASCMediumNotPresent, 0}
	case errors.Is(err, errInvalidField):
		return senseData{msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0}
	case errors.Is(err, ErrTransferLength):
		return senseData{msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0}
	default:
		return senseData{msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0}
	}
}

var (
	errNotReady       = errors.New("medium not present")
	errWriteProtected = errors.New("medium write protected")
	errInvalidField   = errors.New("invalid field in CDB")
)

// p94, 3.6.2 Standard INQUIRY data, SCSI Commands Reference Manual, Rev. J
func (r *Responder) inquiryData() []byte {
	data := make([]byte, msc.InquiryStandardSize)
	r.inquiry.MarshalTo(data)
	return data
}

// p47, 3.37 REQUEST SENSE command, SCSI Commands Reference Manual, Rev. J
func (r *Responder) requestSense() []byte {
	data := make([]byte, REQUEST_SENSE_LENGTH)
	msc.NewRequestSenseResponse(r.sense.key, r.sense.asc, r.sense.ascq).MarshalTo(data)

	// sense data is reported once
	r.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)

	return data
}

// p111, 3.11 MODE SENSE(6) command, SCSI Commands Reference Manual, Rev. J
func modeSense(op byte, pageCode byte, wp bool) (res []byte, err error) {
	switch pageCode & 0x3f {
	case PAGE_CODE_ALL, PAGE_CODE_CACHING:
	default:
		return nil, fmt.Errorf("%w, unsupported mode page code %#x", errInvalidField, pageCode)
	}

	// p378, 5.3.3 Mode parameter header formats, SCSI Commands Reference Manual, Rev. J
	var param int

	if op == MODE_SENSE_6 {
		res = make([]byte, 4)
		hdr := msc.ModeSense6Response{ModeDataLength: 3}
		hdr.MarshalTo(res)
		param = 2
	} else {
		res = make([]byte, 8)
		binary.BigEndian.PutUint16(res[0:], 6)
		param = 3
	}

	// p381, Table 383 DEVICE-SPECIFIC PARAMETER field for direct access block devices
	if wp {
		res[param] |= MODE_PARAMETER_WP
	}

	return
}

// p155, 3.22 READ CAPACITY (10) command, SCSI Commands Reference Manual, Rev. J
func (r *Responder) readCapacity() []byte {
	res := make([]byte, 8)
	rc := msc.ReadCapacity10Response{
		LastLBA:     r.dev.MaxLBA(),
		BlockLength: BlockSize,
	}
	rc.MarshalTo(res)

	return res
}

// p146, 3.33 READ FORMAT CAPACITIES command, UFI Command Specification 1.0
func (r *Responder) readFormatCapacities() []byte {
	res := make([]byte, 4+FORMAT_CAPACITY_LIST_LENGTH)

	hdr := msc.ReadFormatCapacitiesHeader{CapacityLength: FORMAT_CAPACITY_LIST_LENGTH}
	hdr.MarshalTo(res)

	desc := msc.CurrentMaximumCapacityDescriptor{
		DescType:    FORMAT_CAPACITY_NO_MEDIA,
		BlockLength: BlockSize,
	}

	if present(r.dev) {
		desc.BlockCount = r.dev.MaxLBA() + 1
		desc.DescType = FORMAT_CAPACITY_FORMATTED
	}

	desc.MarshalTo(res[4:])

	return res
}

// checkRange validates a transfer against the device capacity so that
// commands beyond the last block never reach the card.
func (r *Responder) checkRange(lba uint32, blocks int) error {
	if uint64(lba)+uint64(blocks) > uint64(r.dev.MaxLBA())+1 {
		return blockdev.InvalidAddress
	}

	return nil
}

func (r *Responder) read(lba uint32, blocks int) (data []byte, err error) {
	if err = r.checkRange(lba, blocks); err != nil {
		return
	}

	data = make([]byte, blocks*BlockSize)

	for i := 0; i < blocks; i++ {
		off := i * BlockSize

		if err = r.dev.ReadBlock(lba+uint32(i), data[off:off+BlockSize]); err != nil {
			log.Printf("ums: read error, lba %d, %v", lba+uint32(i), err)
			return nil, err
		}
	}

	return
}

func (r *Responder) handleCDB(cbw *msc.CommandBlockWrapper) (csw *msc.CommandStatusWrapper, data []byte, next int) {
	var err error

	cmd := cbw.CB
	op := cmd[0]
	length := int(cbw.DataTransferLength)

	// p8, 3.3 Host/Device Packet Transfer Order, USB Mass Storage Class 1.0
	csw = msc.NewCSW(cbw.Tag, 0, msc.CSWStatusGood)

	switch op {
	case TEST_UNIT_READY:
		if !present(r.dev) {
			err = errNotReady
		}
	case REQUEST_SENSE:
		data = r.requestSense()
	case INQUIRY:
		data = r.inquiryData()
	case MODE_SENSE_6, MODE_SENSE_10:
		data, err = modeSense(op, cmd[2], readOnly(r.dev))
	case READ_FORMAT_CAPACITIES:
		data = r.readFormatCapacities()
	case READ_CAPACITY_10:
		if !present(r.dev) {
			err = errNotReady
			break
		}

		data = r.readCapacity()
	case READ_10, WRITE_10, VERIFY_10:
		lba := binary.BigEndian.Uint32(cmd[2:])
		blocks := int(binary.BigEndian.Uint16(cmd[7:]))

		if !present(r.dev) {
			err = errNotReady
			break
		}

		switch op {
		case READ_10:
			// p15, 6.7.2 Hi < Di, USB Mass Storage Class Bulk-Only Transport 1.0
			if blocks*BlockSize > length {
				log.Printf("ums: phase error, %d blocks read transfer length (%d)", blocks, length)
				csw.Status = msc.CSWStatusPhaseError
				csw.DataResidue = cbw.DataTransferLength
				return csw, nil, 0
			}

			data, err = r.read(lba, blocks)
		case VERIFY_10:
			err = r.checkRange(lba, blocks)
		case WRITE_10:
			if blocks*BlockSize != length {
				err = fmt.Errorf("%w, %d blocks write transfer length (%d)", ErrTransferLength, blocks, length)
				break
			}

			if err = r.checkRange(lba, blocks); err != nil || blocks == 0 {
				break
			}

			if readOnly(r.dev) {
				err = errWriteProtected
				break
			}

			r.pending = &writeOp{
				csw:  csw,
				lba:  lba,
				size: length,
				buf:  make([]byte, 0, length),
			}

			return nil, nil, length
		}
	case SYNCHRONIZE_CACHE_10, START_STOP_UNIT, PREVENT_ALLOW_MEDIUM_REMOVAL:
		// ignored events
	default:
		err = fmt.Errorf("%w, CDB Operation Code %#x", ErrUnsupported, op)
	}

	if err != nil {
		r.fail(csw, cbw.DataTransferLength, err)
		return csw, nil, 0
	}

	if len(data) > length {
		data = data[:length]
	}

	csw.DataResidue = uint32(length - len(data))

	return
}
