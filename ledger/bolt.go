package ledger

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var accountsBucket = []byte("accounts")

// accountRecord is the stored form of an account. A missing key reads as
// the zero record, which is an open account with no funds.
type accountRecord struct {
	Balance uint64
	Frozen  bool
}

// boltLedger stores accounts in a bbolt file so that they survive conode
// restarts. All mutations run in a single read-write transaction.
type boltLedger struct {
	db *bolt.DB
}

// NewBoltLedger opens or creates the ledger database at path.
func NewBoltLedger(path string) (Ledger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		log.Errorf("Opening ledger database failed: %v", err)
		return nil, xerrors.Errorf("opening ledger database: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		db.Close()
		log.Errorf("Creating ledger bucket failed: %v", err)
		return nil, xerrors.Errorf("creating ledger bucket: %v", err)
	}
	return &boltLedger{db: db}, nil
}

func getRecord(b *bolt.Bucket, acct AccountID) (accountRecord, error) {
	rec := accountRecord{}
	buf := b.Get([]byte(acct))
	if buf == nil {
		return rec, nil
	}
	err := protobuf.Decode(buf, &rec)
	if err != nil {
		return rec, xerrors.Errorf("decoding account record: %v", err)
	}
	return rec, nil
}

func putRecord(b *bolt.Bucket, acct AccountID, rec accountRecord) error {
	buf, err := protobuf.Encode(&rec)
	if err != nil {
		return xerrors.Errorf("encoding account record: %v", err)
	}
	return b.Put([]byte(acct), buf)
}

func (l *boltLedger) Balance(acct AccountID) (uint64, error) {
	var balance uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx.Bucket(accountsBucket), acct)
		if err != nil {
			return err
		}
		balance = rec.Balance
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("reading balance: %v", err)
	}
	return balance, nil
}

func (l *boltLedger) Deposit(acct AccountID, amount uint64) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		rec, err := getRecord(b, acct)
		if err != nil {
			return err
		}
		rec.Balance += amount
		return putRecord(b, acct, rec)
	})
	if err != nil {
		return xerrors.Errorf("depositing: %v", err)
	}
	return nil
}

func (l *boltLedger) Transfer(from, to AccountID, amount uint64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		fromRec, err := getRecord(b, from)
		if err != nil {
			return err
		}
		if fromRec.Balance < amount {
			return ErrInsufficientFunds
		}
		toRec, err := getRecord(b, to)
		if err != nil {
			return err
		}
		if toRec.Frozen {
			return ErrRefused
		}
		fromRec.Balance -= amount
		if err := putRecord(b, from, fromRec); err != nil {
			return xerrors.Errorf("debiting: %v", err)
		}
		// reload, from and to may be the same account
		toRec, err = getRecord(b, to)
		if err != nil {
			return err
		}
		toRec.Balance += amount
		if err := putRecord(b, to, toRec); err != nil {
			return xerrors.Errorf("crediting: %v", err)
		}
		return nil
	})
}

func (l *boltLedger) Freeze(acct AccountID, frozen bool) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		rec, err := getRecord(b, acct)
		if err != nil {
			return err
		}
		rec.Frozen = frozen
		return putRecord(b, acct, rec)
	})
	if err != nil {
		return xerrors.Errorf("updating freeze flag: %v", err)
	}
	return nil
}

func (l *boltLedger) Close() error {
	return l.db.Close()
}
