package common

// Default client configuration
const DEFAULT_CLIENT_ID = "client-001"
const DEFAULT_API_HOST = "0.0.0.0"
const DEFAULT_API_PORT = 8000
const DEFAULT_SERVER_GRPC_URL = "localhost:50051"
const DEFAULT_DATA_DIR = "./data"

// Default model configuration
const DEFAULT_MAX_SEQ_LEN = 300
const DEFAULT_INPUT_SIZE = 7
const DEFAULT_HIDDEN_SIZE = 512
const DEFAULT_ALPHABET_SIZE = 40

// Default training configuration
const DEFAULT_BATCH_SIZE = 32
const DEFAULT_LEARNING_RATE = 0.001
const DEFAULT_NUM_EPOCHS = 5

// Keyboard geometry used by the frontend (pixels)
const DEFAULT_KEYBOARD_WIDTH = 1080.0
const DEFAULT_KEYBOARD_HEIGHT = 631.0

// Alphabet: Russian keyboard tokens plus specials, pipe-separated.
// The first token is the CTC blank.
const DEFAULT_ALPHABET = "_|й|ц|у|к|е|н|г|ш|щ|з|х|ф|ы|в|а|п|р|о|л|д|ж|э|shift|я|ч|с|м|и|т|ь|б|ю|backspace|toNumberState|globe|,|space|.|enter"

// Storage layout
const RAW_DATA_SUBDIR = "raw"
const SWIPES_FILE_NAME = "swipes.jsonl"
const MODEL_FILE_NAME = "model.bin"
const ROUNDS_DB_FILE_NAME = "rounds.db"

// Events
const SWIPE_STORED_EVENT_TYPE = "SwipeStored"
const CYCLE_FINISHED_EVENT_TYPE = "CycleFinished"

// Round states
const ROUND_STATUS_COMPLETED = "completed"
const ROUND_STATUS_FAILED = "failed"
