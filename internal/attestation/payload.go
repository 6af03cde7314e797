package attestation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/agelabs/escrow/internal/models"
)

// ErrMalformedPayload is returned when attestation data does not decode as a
// task claim. Decoding is a fallible parse, never a panic.
var ErrMalformedPayload = errors.New("malformed attestation payload")

const wordSize = 32

// Task-claim layout: ABI tuple (uint256 taskId, uint8 qualityScore,
// string comment, address worker, address client). Five head words, with the
// comment stored in the tail behind an offset.
const claimHeadWords = 5

// DecodeTaskClaim parses ABI-encoded attestation data into a TaskClaim.
func DecodeTaskClaim(data []byte) (*models.TaskClaim, error) {
	if len(data) < claimHeadWords*wordSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedPayload, len(data), claimHeadWords*wordSize)
	}

	taskID, err := wordToUint64(word(data, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: task id: %v", ErrMalformedPayload, err)
	}

	scoreWord := word(data, 1)
	for _, b := range scoreWord[:wordSize-1] {
		if b != 0 {
			return nil, fmt.Errorf("%w: quality score exceeds uint8", ErrMalformedPayload)
		}
	}
	score := scoreWord[wordSize-1]

	comment, err := tailString(data, word(data, 2))
	if err != nil {
		return nil, fmt.Errorf("%w: comment: %v", ErrMalformedPayload, err)
	}

	worker, err := wordToAddress(word(data, 3))
	if err != nil {
		return nil, fmt.Errorf("%w: worker: %v", ErrMalformedPayload, err)
	}
	client, err := wordToAddress(word(data, 4))
	if err != nil {
		return nil, fmt.Errorf("%w: client: %v", ErrMalformedPayload, err)
	}

	return &models.TaskClaim{
		TaskID:       taskID,
		QualityScore: score,
		Comment:      comment,
		Worker:       worker,
		Client:       client,
	}, nil
}

// EncodeTaskClaim produces the ABI encoding DecodeTaskClaim accepts. Used by
// attestor tooling and test fixtures.
func EncodeTaskClaim(c *models.TaskClaim) []byte {
	padded := (len(c.Comment) + wordSize - 1) / wordSize * wordSize
	out := make([]byte, claimHeadWords*wordSize+wordSize+padded)

	new(big.Int).SetUint64(c.TaskID).FillBytes(out[0:wordSize])
	out[2*wordSize-1] = c.QualityScore
	// Comment tail starts right after the head.
	binary.BigEndian.PutUint64(out[3*wordSize-8:3*wordSize], uint64(claimHeadWords*wordSize))
	copy(out[3*wordSize+12:4*wordSize], c.Worker[:])
	copy(out[4*wordSize+12:5*wordSize], c.Client[:])
	binary.BigEndian.PutUint64(out[6*wordSize-8:6*wordSize], uint64(len(c.Comment)))
	copy(out[6*wordSize:], c.Comment)
	return out
}

func word(data []byte, i int) []byte {
	return data[i*wordSize : (i+1)*wordSize]
}

func wordToUint64(w []byte) (uint64, error) {
	for _, b := range w[:wordSize-8] {
		if b != 0 {
			return 0, errors.New("value exceeds uint64")
		}
	}
	return binary.BigEndian.Uint64(w[wordSize-8:]), nil
}

func wordToAddress(w []byte) (models.Address, error) {
	var a models.Address
	for _, b := range w[:wordSize-20] {
		if b != 0 {
			return a, errors.New("address word has nonzero padding")
		}
	}
	copy(a[:], w[wordSize-20:])
	return a, nil
}

func tailString(data, offsetWord []byte) (string, error) {
	off, err := wordToUint64(offsetWord)
	if err != nil {
		return "", err
	}
	// Subtraction form: the additions would wrap for offset or length
	// words near MaxUint64 and sneak past a naive bound check.
	size := uint64(len(data))
	if off > size || size-off < wordSize {
		return "", errors.New("offset out of range")
	}
	length, err := wordToUint64(data[off : off+wordSize])
	if err != nil {
		return "", err
	}
	start := off + wordSize
	if length > size-start {
		return "", errors.New("length out of range")
	}
	return string(data[start : start+length]), nil
}
